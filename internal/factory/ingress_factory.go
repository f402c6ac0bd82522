package factory

import (
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/adapters/smtpgw"
	"github.com/ztmail/zerotrust/internal/config"
	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/ports"
)

// IngressFactory creates the SMTP ingress based on configuration
type IngressFactory struct {
	cfg     *config.Config
	logger  *zap.Logger
	service *core.ZeroTrustService
}

// NewIngressFactory creates a new ingress factory
func NewIngressFactory(cfg *config.Config, logger *zap.Logger, service *core.ZeroTrustService) *IngressFactory {
	return &IngressFactory{
		cfg:     cfg,
		logger:  logger,
		service: service,
	}
}

// CreateSMTPIngress creates the SMTP content filter
func (f *IngressFactory) CreateSMTPIngress() (ports.Ingress, error) {
	return smtpgw.NewFilter(
		f.service,
		f.logger,
		f.cfg.GetString("server.smtp_listen_address"),
		f.cfg.GetString("server.upstream_host"),
		f.cfg.GetInt("server.upstream_port"),
		f.cfg.GetBool("server.relay_enabled"),
		f.cfg.GetString("server.spool_dir"),
		f.cfg.GetString("server.subject_prefix"),
		f.cfg.GetInt64("server.max_message_bytes"),
	), nil
}
