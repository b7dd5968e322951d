package whisper

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"rythmo/internal/services"
)

// Segment is one transcribed utterance.
type Segment struct {
	Start   float64
	End     float64
	Text    string
	Speaker string
}

// Output is the decoded script result.
type Output struct {
	Segments []Segment
	// Speakers lists the diarization labels in the order the script reported
	// them, extended with any label that only appears on a segment.
	Speakers []string
	Language string
	Duration float64
}

type rawOutput struct {
	Success   *bool        `json:"success"`
	Error     string       `json:"error"`
	Dialogues []rawSegment `json:"dialogues"`
	Speakers  []string     `json:"speakers"`
	Metadata  struct {
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	} `json:"metadata"`
}

type rawSegment struct {
	Start   *float64 `json:"start"`
	End     *float64 `json:"end"`
	Text    *string  `json:"text"`
	Speaker string   `json:"speaker"`
}

// ParseOutput validates and decodes the script's JSON file contents.
func ParseOutput(data []byte) (Output, error) {
	var raw rawOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return Output{}, fmt.Errorf("%w: decode transcription result: %w", services.ErrMalformedOutput, err)
	}
	if raw.Success == nil {
		return Output{}, fmt.Errorf("%w: transcription result has no success field", services.ErrMalformedOutput)
	}
	if !*raw.Success {
		reason := strings.TrimSpace(raw.Error)
		if reason == "" {
			reason = "unknown error"
		}
		return Output{}, fmt.Errorf("%w: transcription failed: %s", services.ErrExternalTool, reason)
	}

	out := Output{
		Segments: make([]Segment, 0, len(raw.Dialogues)),
		Language: strings.TrimSpace(raw.Metadata.Language),
		Duration: raw.Metadata.Duration,
	}
	known := make(map[string]struct{}, len(raw.Speakers))
	addSpeaker := func(label string) {
		if _, ok := known[label]; ok {
			return
		}
		known[label] = struct{}{}
		out.Speakers = append(out.Speakers, label)
	}
	for _, label := range raw.Speakers {
		if label = strings.TrimSpace(label); label != "" {
			addSpeaker(label)
		}
	}

	for i, seg := range raw.Dialogues {
		if seg.Start == nil || seg.End == nil || seg.Text == nil {
			return Output{}, fmt.Errorf("%w: dialogue %d is missing start, end or text", services.ErrMalformedOutput, i)
		}
		start, end := *seg.Start, *seg.End
		if !finite(start) || !finite(end) || start < 0 || end < start {
			return Output{}, fmt.Errorf("%w: dialogue %d has invalid interval %v-%v", services.ErrMalformedOutput, i, start, end)
		}
		speaker := strings.TrimSpace(seg.Speaker)
		if speaker == "" {
			speaker = DefaultSpeaker
		}
		addSpeaker(speaker)
		out.Segments = append(out.Segments, Segment{
			Start:   start,
			End:     end,
			Text:    strings.TrimSpace(*seg.Text),
			Speaker: speaker,
		})
	}
	if len(out.Segments) > 0 && len(out.Speakers) == 0 {
		out.Speakers = []string{DefaultSpeaker}
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
