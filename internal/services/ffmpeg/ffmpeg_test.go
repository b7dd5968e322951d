package ffmpeg_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rythmo/internal/procrun"
	"rythmo/internal/services/ffmpeg"
	"rythmo/internal/testsupport"
)

func TestSceneArgs(t *testing.T) {
	got := strings.Join(ffmpeg.SceneArgs("/v/movie.mp4", 0.4, 2), " ")
	want := "-hide_banner -nostats -i /v/movie.mp4 -vf fps=2,select='gt(scene,0.4)',showinfo -f null -"
	if got != want {
		t.Fatalf("SceneArgs = %q, want %q", got, want)
	}
}

func TestParseSceneTimes(t *testing.T) {
	output := strings.Join([]string{
		"[Parsed_showinfo_2 @ 0x1] n:   0 pts:  10240 pts_time:5.12 duration: 512",
		"[Parsed_showinfo_2 @ 0x1] n:   1 pts:   2048 pts_time:1.024",
		"[Parsed_showinfo_2 @ 0x1] n:   2 pts:  10240 pts_time:5.12",
		"frame=  120 fps=0.0 q=-0.0 size=N/A time=00:00:06.00",
		"[Parsed_showinfo_2 @ 0x1] n:   3 pts:  20480 pts_time:10",
	}, "\n")
	got := ffmpeg.ParseSceneTimes(output)
	want := []float64{1.024, 5.12, 10}
	if len(got) != len(want) {
		t.Fatalf("ParseSceneTimes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ParseSceneTimes[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if times := ffmpeg.ParseSceneTimes("no timestamps here"); len(times) != 0 {
		t.Fatalf("expected no timestamps, got %v", times)
	}
}

func TestDetectScenesAcceptsExitCodeOne(t *testing.T) {
	dir := t.TempDir()
	bin := testsupport.WriteScript(t, filepath.Join(dir, "ffmpeg"), `
echo "[Parsed_showinfo_2 @ 0x1] n:0 pts:1 pts_time:2.5" >&2
echo "[Parsed_showinfo_2 @ 0x1] n:1 pts:2 pts_time:7.25" >&2
exit 1
`)
	client := ffmpeg.New(procrun.New(nil), bin, "")

	var seen []float64
	times, err := client.DetectScenes(context.Background(), "/v/movie.mp4", ffmpeg.SceneOptions{
		Threshold:   0.4,
		FPS:         2,
		OnTimestamp: func(ts float64) { seen = append(seen, ts) },
	})
	if err != nil {
		t.Fatalf("DetectScenes returned error: %v", err)
	}
	if len(times) != 2 || times[0] != 2.5 || times[1] != 7.25 {
		t.Fatalf("unexpected timestamps %v", times)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 streamed timestamps, got %v", seen)
	}
}

func TestProbeDuration(t *testing.T) {
	dir := t.TempDir()
	bin := testsupport.WriteScript(t, filepath.Join(dir, "ffprobe"),
		`echo '{"streams":[{"index":0,"codec_type":"video"},{"index":1,"codec_type":"audio"}],"format":{"duration":"123.45"}}'`)
	client := ffmpeg.New(procrun.New(nil), "", bin)

	result, err := client.Probe(context.Background(), "/v/movie.mp4")
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration %v", result.DurationSeconds())
	}
	if result.AudioStreamCount() != 1 {
		t.Fatalf("expected 1 audio stream, got %d", result.AudioStreamCount())
	}
}

func TestProbeDurationInvalid(t *testing.T) {
	result := ffmpeg.ProbeResult{Format: ffmpeg.Format{Duration: "N/A"}}
	if result.DurationSeconds() != 0 {
		t.Fatalf("expected 0 duration, got %v", result.DurationSeconds())
	}
}

func TestExtractAudioWritesDestination(t *testing.T) {
	dir := t.TempDir()
	bin := testsupport.WriteScript(t, filepath.Join(dir, "ffmpeg"), `
for last; do :; done
printf 'RIFF' > "$last"
`)
	client := ffmpeg.New(procrun.New(nil), bin, "")
	dest := filepath.Join(dir, "audio.wav")
	if err := client.ExtractAudio(context.Background(), "/v/movie.mp4", dest, 0); err != nil {
		t.Fatalf("ExtractAudio returned error: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "RIFF" {
		t.Fatalf("unexpected output %q err=%v", data, err)
	}
}
