package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// commandRunner runs an external program and returns its stdout
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, fmt.Errorf("%s exited with code %d: %s", filepath.Base(name), exitErr.ExitCode(), tail(stderr.String(), 400))
		}
		return out, fmt.Errorf("%s failed: %w", filepath.Base(name), err)
	}
	return out, nil
}

// tail keeps the last n bytes of s; ffmpeg puts the useful part of an error at the end
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// VideoConfig locates the ffmpeg binaries and bounds the web rendition
type VideoConfig struct {
	FFmpegPath  string
	FFprobePath string
	MaxHeight   int
	CRF         int
}

// VideoProcessor transcodes to a web-friendly MP4 and renders poster variants
type VideoProcessor struct {
	cfg    VideoConfig
	images *ImageProcessor
	run    commandRunner
}

// NewVideoProcessor creates a processor; poster frames go through images
func NewVideoProcessor(cfg VideoConfig, images *ImageProcessor) *VideoProcessor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 1080
	}
	if cfg.CRF <= 0 {
		cfg.CRF = 23
	}
	return &VideoProcessor{cfg: cfg, images: images, run: execRunner}
}

// Probe is what ffprobe reports about the first video stream
type Probe struct {
	Width    int
	Height   int
	Duration time.Duration
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
		Tags   struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads dimensions and duration with ffprobe
func (p *VideoProcessor) Probe(ctx context.Context, srcPath string) (*Probe, error) {
	out, err := p.run(ctx, p.cfg.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:stream_tags=rotate:format=duration",
		"-of", "json",
		srcPath,
	)
	if err != nil {
		return nil, err
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return nil, ErrNoVideoStream
	}

	s := parsed.Streams[0]
	probe := &Probe{Width: s.Width, Height: s.Height}
	if s.Tags.Rotate == "90" || s.Tags.Rotate == "270" || s.Tags.Rotate == "-90" {
		probe.Width, probe.Height = s.Height, s.Width
	}
	if secs, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		probe.Duration = time.Duration(secs * float64(time.Second))
	}
	return probe, nil
}

// Process probes, transcodes and grabs a poster frame
func (p *VideoProcessor) Process(ctx context.Context, srcPath, workDir string) (*Result, error) {
	probe, err := p.Probe(ctx, srcPath)
	if err != nil {
		return nil, err
	}

	webPath := filepath.Join(workDir, "web.mp4")
	if _, err := p.run(ctx, p.cfg.FFmpegPath,
		"-y", "-v", "error",
		"-i", srcPath,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-c:v", "libx264", "-preset", "veryfast", "-crf", strconv.Itoa(p.cfg.CRF),
		"-pix_fmt", "yuv420p",
		"-vf", fmt.Sprintf("scale=-2:'min(%d,ih)'", p.cfg.MaxHeight),
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		webPath,
	); err != nil {
		return nil, fmt.Errorf("transcode failed: %w", err)
	}

	posterPath := filepath.Join(workDir, "poster-source.jpg")
	if _, err := p.run(ctx, p.cfg.FFmpegPath,
		"-y", "-v", "error",
		"-ss", formatSeconds(posterOffset(probe.Duration)),
		"-i", srcPath,
		"-frames:v", "1",
		"-q:v", "2",
		posterPath,
	); err != nil {
		return nil, fmt.Errorf("poster extraction failed: %w", err)
	}

	posters, err := p.images.Process(ctx, posterPath, workDir)
	if err != nil {
		return nil, fmt.Errorf("poster variants: %w", err)
	}

	info, err := os.Stat(webPath)
	if err != nil {
		return nil, fmt.Errorf("transcode produced no output: %w", err)
	}
	web := Rendition{
		Name:        "web",
		Path:        webPath,
		Ext:         "mp4",
		ContentType: "video/mp4",
		Size:        info.Size(),
	}
	web.Width, web.Height = scaledToHeight(probe.Width, probe.Height, p.cfg.MaxHeight)

	return &Result{
		Width:      probe.Width,
		Height:     probe.Height,
		DurationMS: probe.Duration.Milliseconds(),
		Renditions: append([]Rendition{web}, posters.Renditions...),
	}, nil
}

// posterOffset picks a frame one second in, or halfway through short clips
func posterOffset(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if d < 2*time.Second {
		return d / 2
	}
	return time.Second
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// scaledToHeight mirrors the ffmpeg scale filter: width rounded to even
func scaledToHeight(w, h, maxHeight int) (int, int) {
	if h <= maxHeight || h == 0 {
		return w, h
	}
	nw := w * maxHeight / h
	if nw%2 != 0 {
		nw++
	}
	return nw, maxHeight
}
