package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a prometheus registry exposing the Stats counters.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "webcast",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}

	reg.MustRegister(
		counter("signaling_messages_sent_total", "Signaling messages written to the relay.", &Stats.MessagesSent),
		counter("signaling_messages_received_total", "Signaling messages read from the relay.", &Stats.MessagesRecv),
		counter("signaling_messages_dropped_total", "Inbound signaling messages rejected by the codec.", &Stats.MessagesDropped),
		counter("ice_local_candidates_total", "Local ICE candidates trickled to the peer.", &Stats.LocalCandidates),
		counter("ice_remote_candidates_total", "Remote ICE candidates applied to the engine.", &Stats.RemoteCandidates),
		counter("video_frames_sent_total", "Encoded video frames written to the track.", &Stats.FramesSent),
		counter("video_bytes_sent_total", "Encoded video bytes written to the track.", &Stats.BytesSent),
	)
	return reg
}

// ServeMetrics serves /metrics on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(NewRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	LogInfo("metrics listening on http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
