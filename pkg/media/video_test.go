package media

import (
	"context"
	"errors"
	"image"
	"image/jpeg"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFFmpeg struct {
	mu       sync.Mutex
	probe    string
	calls    [][]string
	failWith error
}

func (f *fakeFFmpeg) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if strings.HasSuffix(name, "ffprobe") {
		return []byte(f.probe), nil
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := args[len(args)-1]
	if strings.HasSuffix(out, ".mp4") {
		return nil, os.WriteFile(out, []byte("mp4 bytes"), 0o644)
	}
	file, err := os.Create(out)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return nil, jpeg.Encode(file, image.NewRGBA(image.Rect(0, 0, 1920, 1080)), nil)
}

func newFakeVideoProcessor(ff *fakeFFmpeg) *VideoProcessor {
	p := NewVideoProcessor(VideoConfig{FFmpegPath: "/usr/bin/ffmpeg", FFprobePath: "/usr/bin/ffprobe"}, NewImageProcessor(80))
	p.run = ff.run
	return p
}

func TestVideoProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("landscape", func(t *testing.T) {
		ff := &fakeFFmpeg{probe: `{"streams":[{"width":1920,"height":1080}],"format":{"duration":"12.500000"}}`}
		probe, err := newFakeVideoProcessor(ff).Probe(ctx, "in.mp4")
		require.NoError(t, err)
		assert.Equal(t, 1920, probe.Width)
		assert.Equal(t, 1080, probe.Height)
		assert.Equal(t, 12500*time.Millisecond, probe.Duration)
	})

	t.Run("rotated phone clip", func(t *testing.T) {
		ff := &fakeFFmpeg{probe: `{"streams":[{"width":1920,"height":1080,"tags":{"rotate":"90"}}],"format":{"duration":"3"}}`}
		probe, err := newFakeVideoProcessor(ff).Probe(ctx, "in.mov")
		require.NoError(t, err)
		assert.Equal(t, 1080, probe.Width)
		assert.Equal(t, 1920, probe.Height)
	})

	t.Run("audio only", func(t *testing.T) {
		ff := &fakeFFmpeg{probe: `{"streams":[],"format":{"duration":"3"}}`}
		_, err := newFakeVideoProcessor(ff).Probe(ctx, "in.mp4")
		assert.ErrorIs(t, err, ErrNoVideoStream)
	})

	t.Run("garbage", func(t *testing.T) {
		ff := &fakeFFmpeg{probe: `not json`}
		_, err := newFakeVideoProcessor(ff).Probe(ctx, "in.mp4")
		require.Error(t, err)
	})
}

func TestVideoProcess(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFFmpeg{probe: `{"streams":[{"width":3840,"height":2160}],"format":{"duration":"1.000"}}`}

	result, err := newFakeVideoProcessor(ff).Process(context.Background(), "in.mp4", dir)
	require.NoError(t, err)

	assert.Equal(t, 3840, result.Width)
	assert.Equal(t, int64(1000), result.DurationMS)
	require.Len(t, result.Renditions, 4)

	web := result.Renditions[0]
	assert.Equal(t, "web", web.Name)
	assert.Equal(t, "video/mp4", web.ContentType)
	assert.Equal(t, 1920, web.Width)
	assert.Equal(t, 1080, web.Height)

	names := []string{}
	for _, r := range result.Renditions[1:] {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{"thumb", "medium", "large"}, names)

	require.Len(t, ff.calls, 3)
	poster := strings.Join(ff.calls[2], " ")
	assert.Contains(t, poster, "-ss 0.500")
	assert.Contains(t, poster, "-frames:v 1")
}

func TestVideoProcessTranscodeFailure(t *testing.T) {
	ff := &fakeFFmpeg{
		probe:    `{"streams":[{"width":640,"height":480}],"format":{"duration":"10"}}`,
		failWith: errors.New("ffmpeg exited with code 1: Invalid data found"),
	}
	_, err := newFakeVideoProcessor(ff).Process(context.Background(), "in.mp4", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcode failed")
}

func TestPosterOffset(t *testing.T) {
	assert.Equal(t, time.Duration(0), posterOffset(0))
	assert.Equal(t, 500*time.Millisecond, posterOffset(time.Second))
	assert.Equal(t, time.Second, posterOffset(time.Minute))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("  abc\n", 10))
	assert.Equal(t, "cde", tail("abcde", 3))
}
