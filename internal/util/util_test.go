package util

import (
	"bytes"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	cases := map[float64]string{
		0:           " 0.0   B",
		99:          "99.0   B",
		1536:        " 1.5 KiB",
		100 * 1024:  " 0.1 MiB",
		5 * 1 << 30: " 5.0 GiB",
	}
	for in, want := range cases {
		got := formatBytes(in)
		assert.Equal(t, want, got, "formatBytes(%v)", in)
		assert.Len(t, got, 8)
	}
}

func TestRegistryExposesStats(t *testing.T) {
	before := Stats.FramesSent.Load()
	Stats.AddFrame(1200)

	families, err := NewRegistry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		values[f.GetName()] = f.GetMetric()[0].GetCounter().GetValue()
	}

	assert.Len(t, values, 7)
	assert.Equal(t, float64(before+1), values["webcast_video_frames_sent_total"])
	assert.Contains(t, values, "webcast_signaling_messages_dropped_total")
}

func TestPionLoggerCarriesScope(t *testing.T) {
	var buf bytes.Buffer
	writer, level := pterm.DefaultLogger.Writer, pterm.DefaultLogger.Level
	pterm.DefaultLogger.Writer = &buf
	pterm.DefaultLogger.Level = pterm.LogLevelInfo
	t.Cleanup(func() {
		pterm.DefaultLogger.Writer = writer
		pterm.DefaultLogger.Level = level
	})

	log := PionLoggerFactory{}.NewLogger("ice")
	log.Infof("gathering %d", 3)
	assert.Empty(t, buf.String(), "pion info records are debug-only")

	log.Warnf("candidate %s failed", "host")
	assert.Contains(t, buf.String(), "candidate host failed")
	assert.Contains(t, buf.String(), "ice")
}
