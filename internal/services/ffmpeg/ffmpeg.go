package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"rythmo/internal/procrun"
)

// ffmpeg exits 1 on some containers after the null muxer finishes even though
// the filter graph produced complete output.
var sceneExitCodes = []int{1}

var ptsTimePattern = regexp.MustCompile(`pts_time:(\d+(?:\.\d+)?)`)

// Client runs ffmpeg and ffprobe through a procrun.Runner.
type Client struct {
	runner  *procrun.Runner
	ffmpeg  string
	ffprobe string
}

// New constructs a client. Empty binary names fall back to the PATH lookups.
func New(runner *procrun.Runner, ffmpegBinary, ffprobeBinary string) *Client {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	return &Client{runner: runner, ffmpeg: ffmpegBinary, ffprobe: ffprobeBinary}
}

// SceneOptions configures a scene detection run.
type SceneOptions struct {
	Threshold float64
	FPS       float64
	Timeout   time.Duration
	// OnTimestamp receives each detected timestamp as ffmpeg prints it.
	OnTimestamp func(seconds float64)
	// OnTick runs every Interval while ffmpeg works; an error stops it.
	Interval time.Duration
	OnTick   procrun.TickFunc
}

// SceneFilter builds the -vf graph for scene detection.
func SceneFilter(threshold, fps float64) string {
	return fmt.Sprintf("fps=%s,select='gt(scene,%s)',showinfo", formatNumber(fps), formatNumber(threshold))
}

// SceneArgs returns the full ffmpeg argument list for scene detection.
func SceneArgs(video string, threshold, fps float64) []string {
	return []string{
		"-hide_banner",
		"-nostats",
		"-i", video,
		"-vf", SceneFilter(threshold, fps),
		"-f", "null",
		"-",
	}
}

// DetectScenes runs the scene filter and returns the sorted, de-duplicated
// timestamps of every detected cut.
func (c *Client) DetectScenes(ctx context.Context, video string, opts SceneOptions) ([]float64, error) {
	if strings.TrimSpace(video) == "" {
		return nil, errors.New("detect scenes: empty video path")
	}
	cmd := procrun.Command{
		Name:             c.ffmpeg,
		Args:             SceneArgs(video, opts.Threshold, opts.FPS),
		Timeout:          opts.Timeout,
		AllowedExitCodes: sceneExitCodes,
	}
	if opts.OnTimestamp != nil {
		cmd.OnStderrLine = func(line string) {
			for _, ts := range ParseSceneTimes(line) {
				opts.OnTimestamp(ts)
			}
		}
	}
	result, err := c.runner.RunWithPolling(ctx, cmd, opts.Interval, opts.OnTick)
	if err != nil {
		return nil, err
	}
	return ParseSceneTimes(result.Stderr), nil
}

// ParseSceneTimes extracts pts_time values from showinfo output. Values are
// rounded to the millisecond, sorted, and duplicates are dropped.
func ParseSceneTimes(output string) []float64 {
	matches := ptsTimePattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil
	}
	times := make([]float64, 0, len(matches))
	for _, match := range matches {
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		times = append(times, math.Round(value*1000)/1000)
	}
	slices.Sort(times)
	return slices.Compact(times)
}

// ExtractAudioArgs returns the ffmpeg arguments that decode a video's audio
// track into 16-bit 44.1kHz stereo PCM.
func ExtractAudioArgs(video, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", video,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "44100",
		"-ac", "2",
		dest,
	}
}

// ExtractAudio writes the video's audio track to dest.
func (c *Client) ExtractAudio(ctx context.Context, video, dest string, timeout time.Duration) error {
	if strings.TrimSpace(video) == "" || strings.TrimSpace(dest) == "" {
		return errors.New("extract audio: source and destination required")
	}
	_, err := c.runner.Run(ctx, procrun.Command{
		Name:    c.ffmpeg,
		Args:    ExtractAudioArgs(video, dest),
		Timeout: timeout,
	})
	return err
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
