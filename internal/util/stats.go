package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/media counter.
var Stats = &stats{}

type stats struct {
	MessagesSent     atomic.Int64 // signaling messages written to the relay
	MessagesRecv     atomic.Int64 // signaling messages read from the relay
	MessagesDropped  atomic.Int64 // inbound messages discarded by the codec
	LocalCandidates  atomic.Int64 // ICE candidates trickled to the peer
	RemoteCandidates atomic.Int64 // ICE candidates handed to the engine
	FramesSent       atomic.Int64 // encoded video frames written to the track
	BytesSent        atomic.Int64 // encoded video bytes written to the track
}

func (s *stats) AddSent()            { s.MessagesSent.Add(1) }
func (s *stats) AddRecv()            { s.MessagesRecv.Add(1) }
func (s *stats) AddDropped()         { s.MessagesDropped.Add(1) }
func (s *stats) AddLocalCandidate()  { s.LocalCandidates.Add(1) }
func (s *stats) AddRemoteCandidate() { s.RemoteCandidates.Add(1) }
func (s *stats) AddFrame(n int) {
	s.FramesSent.Add(1)
	s.BytesSent.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs media throughput every
// 10 seconds while frames are flowing. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevFrames, prevBytes int64
		for {
			select {
			case <-ticker.C:
				frames := Stats.FramesSent.Load()
				sent := Stats.BytesSent.Load()

				fps := float64(frames-prevFrames) / 10.0
				outS := float64(sent-prevBytes) / 10.0

				if fps > 0 {
					pterm.DefaultLogger.Info(formatStats(outS, fps))
				}

				prevFrames = frames
				prevBytes = sent

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(outS, fps float64) string {
	return fmt.Sprintf("Video: %s/s | %4.1f fps | Signaling: %d↑ %d↓",
		formatBytes(outS),
		fps,
		Stats.MessagesSent.Load(),
		Stats.MessagesRecv.Load(),
	)
}
