package dialogues

import (
	"cmp"
	"regexp"
	"slices"
	"strconv"
)

// Color is a character's band color and the text color drawn on top of it.
type Color struct {
	Background string
	Text       string
}

// Palette is the fixed set of speaker colors.
var Palette = [...]Color{
	{"#EF4444", "#FFFFFF"},
	{"#3B82F6", "#FFFFFF"},
	{"#10B981", "#FFFFFF"},
	{"#F59E0B", "#FFFFFF"},
	{"#8B5CF6", "#FFFFFF"},
	{"#EC4899", "#FFFFFF"},
	{"#14B8A6", "#FFFFFF"},
	{"#F97316", "#FFFFFF"},
	{"#6366F1", "#FFFFFF"},
	{"#84CC16", "#000000"},
}

// ColorFor returns the palette entry for the speaker at index.
func ColorFor(index int) Color {
	if index < 0 {
		index = -index
	}
	return Palette[index%len(Palette)]
}

var suffixPattern = regexp.MustCompile(`(\d+)\s*$`)

// RankSpeakers orders labels by numeric suffix. Labels without a number sort
// after numbered ones and keep their relative order.
func RankSpeakers(labels []string) []string {
	type ranked struct {
		label  string
		number int
		has    bool
		pos    int
	}
	items := make([]ranked, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for i, label := range labels {
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		item := ranked{label: label, pos: i}
		if m := suffixPattern.FindStringSubmatch(label); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				item.number, item.has = n, true
			}
		}
		items = append(items, item)
	}
	slices.SortStableFunc(items, func(a, b ranked) int {
		switch {
		case a.has && !b.has:
			return -1
		case !a.has && b.has:
			return 1
		case a.has && b.has:
			if c := cmp.Compare(a.number, b.number); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.pos, b.pos)
	})
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.label
	}
	return out
}

// LineFor returns the rythmo line for the speaker at rank.
func LineFor(rank, speakers, lines int) int {
	if lines < 1 {
		lines = 1
	}
	if lines >= speakers {
		return min(rank+1, lines)
	}
	return 1
}
