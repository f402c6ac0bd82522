package factory

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/config"
	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/metrics"
	"github.com/ztmail/zerotrust/internal/sandbox"
)

func TestScoringWeightsDefaultsMatchStock(t *testing.T) {
	cfg := config.NewFromViper(config.NewEmptyViper())
	assert.Equal(t, core.DefaultWeights(), ScoringWeights(cfg))
}

func TestScoringWeightsOverride(t *testing.T) {
	v := config.NewEmptyViper()
	v.Set("scoring.link_sandbox", 0.7)
	v.Set("scoring.sandbox_malicious", 0.95)

	w := ScoringWeights(config.NewFromViper(v))
	assert.Equal(t, 0.7, w.LinkSandbox)
	assert.Equal(t, 0.95, w.SandboxMalicious)
	assert.Equal(t, core.DefaultWeights().EmailAI, w.EmailAI)
}

func TestSandboxWeightsDefaultsMatchStock(t *testing.T) {
	f := NewSandboxFactory(config.NewFromViper(config.NewEmptyViper()), zap.NewNop(), metrics.NewWith(prometheus.NewRegistry()))
	assert.Equal(t, sandbox.DefaultLinkWeights(), f.linkWeights())
	assert.Equal(t, sandbox.DefaultFileWeights(), f.fileWeights())
}

func TestSandboxWeightsOverride(t *testing.T) {
	v := config.NewEmptyViper()
	v.Set("sandbox.link_weights.popup", 0.25)
	v.Set("sandbox.link_weights.many_requests_count", 20)
	v.Set("sandbox.file_weights.macros", 0.9)

	f := NewSandboxFactory(config.NewFromViper(v), zap.NewNop(), metrics.NewWith(prometheus.NewRegistry()))
	assert.Equal(t, 0.25, f.linkWeights().Popup)
	assert.Equal(t, 20, f.linkWeights().ManyRequestsCount)
	assert.Equal(t, 0.9, f.fileWeights().Macros)
	assert.Equal(t, sandbox.DefaultFileWeights().HighEntropy, f.fileWeights().HighEntropy)
}
