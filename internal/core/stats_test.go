package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsCountsByAction(t *testing.T) {
	c := newStatsCollector()
	c.Record(ActionBlock, time.Millisecond)
	c.Record(ActionBlock, time.Millisecond)
	c.Record(ActionAllow, 3*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, int64(3), snap.TotalProcessed)
	assert.Equal(t, int64(2), snap.ActionCounts[ActionBlock])
	assert.Equal(t, int64(1), snap.ActionCounts[ActionAllow])
}

func TestStatsLatencySamplesAreCapped(t *testing.T) {
	c := newStatsCollector()
	for i := 0; i < maxLatencySamples+250; i++ {
		c.Record(ActionAllow, time.Millisecond)
	}

	snap := c.Snapshot()
	assert.Equal(t, int64(maxLatencySamples+250), snap.TotalProcessed)
	assert.Equal(t, maxLatencySamples, snap.SampleCount)
}

func TestStatsAverageProcessing(t *testing.T) {
	c := newStatsCollector()
	c.Record(ActionAllow, 10*time.Millisecond)
	c.Record(ActionAllow, 30*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, 20*time.Millisecond, snap.AverageProcessing)
}
