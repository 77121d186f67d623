package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleRecorder is a SampleWriter that keeps every sample it receives.
type sampleRecorder struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (r *sampleRecorder) WriteSample(s media.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	return nil
}

func (r *sampleRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func (r *sampleRecorder) snapshot() []media.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.Sample(nil), r.samples...)
}

// writeIVF writes a minimal IVF file with the given FourCC and frames at
// 1/den seconds per frame.
func writeIVF(t *testing.T, fourcc string, den uint32, frames ...[]byte) string {
	t.Helper()

	var buf bytes.Buffer
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:6], 0)  // version
	binary.LittleEndian.PutUint16(header[6:8], 32) // header size
	copy(header[8:12], fourcc)
	binary.LittleEndian.PutUint16(header[12:14], 640)
	binary.LittleEndian.PutUint16(header[14:16], 480)
	binary.LittleEndian.PutUint32(header[16:20], den)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(frames)))
	buf.Write(header)

	for i, f := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(f)))
		binary.LittleEndian.PutUint64(fh[4:12], uint64(i))
		buf.Write(fh)
		buf.Write(f)
	}

	path := filepath.Join(t.TempDir(), "clip.ivf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func writeH264(t *testing.T, nals ...[]byte) string {
	t.Helper()

	var buf bytes.Buffer
	for _, n := range nals {
		buf.Write([]byte{0x00, 0x00, 0x00, 0x01})
		buf.Write(n)
	}

	path := filepath.Join(t.TempDir(), "clip.h264")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func TestCodecForFile(t *testing.T) {
	vp8 := writeIVF(t, "VP80", 30, []byte{1})
	codec, err := CodecForFile(vp8)
	require.NoError(t, err)
	assert.Equal(t, "vp8", codec)

	vp9 := writeIVF(t, "VP90", 30, []byte{1})
	codec, err = CodecForFile(vp9)
	require.NoError(t, err)
	assert.Equal(t, "vp9", codec)

	codec, err = CodecForFile("camera.H264")
	require.NoError(t, err)
	assert.Equal(t, "h264", codec)

	_, err = CodecForFile(writeIVF(t, "XXXX", 30, []byte{1}))
	assert.Error(t, err)

	_, err = CodecForFile("clip.mp4")
	assert.Error(t, err)
}

func TestSourceLoopsIVF(t *testing.T) {
	path := writeIVF(t, "VP80", 100, []byte{0xa}, []byte{0xb, 0xb}, []byte{0xc, 0xc, 0xc})
	rec := &sampleRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- NewSource(path, 0, rec).Run(ctx, closedChan()) }()

	require.Eventually(t, func() bool { return rec.count() >= 5 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	samples := rec.snapshot()
	assert.Equal(t, []byte{0xa}, samples[0].Data)
	assert.Equal(t, []byte{0xb, 0xb}, samples[1].Data)
	assert.Equal(t, []byte{0xc, 0xc, 0xc}, samples[2].Data)
	assert.Equal(t, []byte{0xa}, samples[3].Data, "file is looped")
	assert.Equal(t, 10*time.Millisecond, samples[0].Duration)
}

func TestSourceStreamsH264(t *testing.T) {
	sps := []byte{0x67, 0x42, 0xc0, 0x1f}
	idr := []byte{0x65, 0x88, 0x84, 0x21}
	path := writeH264(t, sps, idr)
	rec := &sampleRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- NewSource(path, 50, rec).Run(ctx, closedChan()) }()

	require.Eventually(t, func() bool { return rec.count() >= 2 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	samples := rec.snapshot()
	assert.Equal(t, sps, samples[0].Data)
	assert.Equal(t, idr, samples[1].Data)
	assert.Equal(t, 20*time.Millisecond, samples[0].Duration)
}

func TestSourceWaitsForReady(t *testing.T) {
	path := writeIVF(t, "VP80", 100, []byte{1})
	rec := &sampleRecorder{}
	ready := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSource(path, 0, rec).Run(ctx, ready) }()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count())

	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, rec.count())
}

func TestSourceMissingFile(t *testing.T) {
	rec := &sampleRecorder{}
	err := NewSource(filepath.Join(t.TempDir(), "missing.ivf"), 0, rec).Run(context.Background(), closedChan())
	assert.Error(t, err)
}
