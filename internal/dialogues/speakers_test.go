package dialogues

import (
	"slices"
	"testing"
)

func TestLineFor(t *testing.T) {
	tests := []struct {
		name     string
		rank     int
		speakers int
		lines    int
		want     int
	}{
		{"first speaker own line", 0, 2, 3, 1},
		{"second speaker own line", 1, 2, 3, 2},
		{"exact fit", 2, 3, 3, 3},
		{"too few lines", 2, 3, 1, 1},
		{"too few lines second", 1, 3, 2, 1},
		{"zero lines", 0, 1, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LineFor(tt.rank, tt.speakers, tt.lines); got != tt.want {
				t.Fatalf("LineFor(%d, %d, %d) = %d, want %d", tt.rank, tt.speakers, tt.lines, got, tt.want)
			}
		})
	}
}

func TestColorForWraps(t *testing.T) {
	if ColorFor(10) != Palette[0] {
		t.Fatalf("index 10 should reuse color 0")
	}
	if ColorFor(11) != Palette[1] {
		t.Fatalf("index 11 should reuse color 1")
	}
	if ColorFor(9).Text != "#000000" {
		t.Fatalf("lime background should use black text")
	}
	for i := 0; i < 9; i++ {
		if ColorFor(i).Text != "#FFFFFF" {
			t.Fatalf("color %d should use white text", i)
		}
	}
}

func TestRankSpeakers(t *testing.T) {
	got := RankSpeakers([]string{"SPEAKER_10", "narrator", "SPEAKER_02", "SPEAKER_00", "SPEAKER_02"})
	want := []string{"SPEAKER_00", "SPEAKER_02", "SPEAKER_10", "narrator"}
	if !slices.Equal(got, want) {
		t.Fatalf("RankSpeakers = %v, want %v", got, want)
	}
}
