package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/1ureka/webcast/internal/util"
)

// SampleWriter receives encoded frames. *webrtc.TrackLocalStaticSample
// implements it.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

var ivfCodecs = map[string]string{
	"VP80": "vp8",
	"VP90": "vp9",
	"AV01": "av1",
}

// CodecForFile reports the codec of an encoded video file: H.264 for .h264
// and .264 Annex-B streams, and the FourCC of the header for .ivf files.
func CodecForFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".h264", ".264":
		return "h264", nil

	case ".ivf":
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()

		_, header, err := ivfreader.NewWith(f)
		if err != nil {
			return "", fmt.Errorf("read IVF header: %w", err)
		}
		codec, ok := ivfCodecs[header.FourCC]
		if !ok {
			return "", fmt.Errorf("unsupported IVF FourCC %q", header.FourCC)
		}
		return codec, nil
	}
	return "", fmt.Errorf("unsupported video file %q (want .ivf, .h264 or .264)", path)
}

// Source loops an encoded video file into a track at its native pace.
type Source struct {
	path string
	fps  int
	out  SampleWriter
}

// NewSource creates a Source. fps paces H.264 streams, which carry no
// timing of their own.
func NewSource(path string, fps int, out SampleWriter) *Source {
	if fps <= 0 {
		fps = 30
	}
	return &Source{path: path, fps: fps, out: out}
}

// Run waits for ready, then streams the file in a loop until ctx is
// cancelled.
func (s *Source) Run(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ready:
	case <-ctx.Done():
		return nil
	}

	util.LogInfo("streaming %s", s.path)

	for {
		err := s.playOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}
		util.LogDebug("reached end of %s, looping", s.path)
	}
}

// playOnce streams the file once. It returns nil at end of file.
func (s *Source) playOnce(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".ivf":
		return s.playIVF(ctx, f)
	default:
		return s.playH264(ctx, f)
	}
}

func (s *Source) playIVF(ctx context.Context, r io.Reader) error {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("read IVF header: %w", err)
	}

	frameDuration := time.Second / time.Duration(s.fps)
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		frameDuration = time.Duration(float64(time.Second) *
			float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read IVF frame: %w", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}

		if err := s.write(frame, frameDuration); err != nil {
			return err
		}
	}
}

func (s *Source) playH264(ctx context.Context, r io.Reader) error {
	h264, err := h264reader.NewReader(r)
	if err != nil {
		return fmt.Errorf("open H.264 stream: %w", err)
	}

	frameDuration := time.Second / time.Duration(s.fps)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		nal, err := h264.NextNAL()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read H.264 NAL: %w", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}

		if err := s.write(nal.Data, frameDuration); err != nil {
			return err
		}
	}
}

func (s *Source) write(data []byte, d time.Duration) error {
	if err := s.out.WriteSample(media.Sample{Data: data, Duration: d}); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	util.Stats.AddFrame(len(data))
	return nil
}
