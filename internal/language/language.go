package language

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
	xlang "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const (
	// Auto asks the transcription script to detect the spoken language.
	Auto = "auto"
	// Fallback is used when detection has no usable text.
	Fallback = "en"
)

// ErrUnknown reports a code that is neither in the table nor a valid tag.
var ErrUnknown = errors.New("unknown language")

type entry struct {
	code2   string
	code3   string
	alt3    string
	display string
	word    string
}

var languages = []entry{
	{"en", "eng", "", "English", "english"},
	{"es", "spa", "", "Spanish", "spanish"},
	{"fr", "fra", "fre", "French", "french"},
	{"de", "deu", "ger", "German", "german"},
	{"it", "ita", "", "Italian", "italian"},
	{"pt", "por", "", "Portuguese", "portuguese"},
	{"ja", "jpn", "", "Japanese", "japanese"},
	{"ko", "kor", "", "Korean", "korean"},
	{"zh", "zho", "chi", "Chinese", "chinese"},
	{"ru", "rus", "", "Russian", "russian"},
	{"ar", "ara", "", "Arabic", "arabic"},
	{"hi", "hin", "", "Hindi", "hindi"},
	{"nl", "nld", "dut", "Dutch", "dutch"},
	{"pl", "pol", "", "Polish", "polish"},
	{"sv", "swe", "", "Swedish", "swedish"},
	{"tr", "tur", "", "Turkish", "turkish"},
	{"fi", "fin", "", "Finnish", "finnish"},
	{"el", "ell", "gre", "Greek", "greek"},
}

var index map[string]*entry

func init() {
	index = make(map[string]*entry, len(languages)*4)
	for i := range languages {
		e := &languages[i]
		index[e.code2] = e
		index[e.code3] = e
		index[e.word] = e
		if e.alt3 != "" {
			index[e.alt3] = e
		}
	}
}

// Normalize reduces code to its base language subtag ("EN" -> "en",
// "fre" -> "fr", "pt-BR" -> "pt").
func Normalize(code string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(code))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty code", ErrUnknown)
	}
	if e, ok := index[trimmed]; ok {
		return e.code2, nil
	}
	tag, err := xlang.Parse(strings.ReplaceAll(trimmed, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("%w %q", ErrUnknown, code)
	}
	base, confidence := tag.Base()
	if confidence == xlang.No || base.String() == "und" {
		return "", fmt.Errorf("%w %q", ErrUnknown, code)
	}
	return base.String(), nil
}

// NormalizeOrAuto accepts "auto" in addition to everything Normalize does.
func NormalizeOrAuto(code string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(code))
	if trimmed == "" || trimmed == Auto {
		return Auto, nil
	}
	return Normalize(trimmed)
}

// DisplayName returns an English name for code, or the upper-cased code when
// nothing better is known.
func DisplayName(code string) string {
	trimmed := strings.ToLower(strings.TrimSpace(code))
	if trimmed == "" {
		return "Unknown"
	}
	if e, ok := index[trimmed]; ok {
		return e.display
	}
	if tag, err := xlang.Parse(trimmed); err == nil {
		if name := display.English.Languages().Name(tag); name != "" {
			return name
		}
	}
	return strings.ToUpper(trimmed)
}

// minLatinWords is the shortest Latin sample whose language guess is trusted.
const minLatinWords = 8

var scriptLanguages = map[*unicode.RangeTable]string{
	unicode.Han:        "zh",
	unicode.Hangul:     "ko",
	unicode.Arabic:     "ar",
	unicode.Cyrillic:   "ru",
	unicode.Devanagari: "hi",
	unicode.Thai:       "th",
	unicode.Greek:      "el",
}

// Detect picks a language from the dominant Unicode script of text. Kana
// means Japanese even when Han dominates. Latin text stays on Fallback unless
// the sample is long and whatlanggo is confident about a known language.
func Detect(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return Fallback
	}
	if hasKana(text) {
		return "ja"
	}
	script := whatlanggo.DetectScript(text)
	if code, ok := scriptLanguages[script]; ok {
		return code
	}
	if script == unicode.Latin {
		return detectLatin(text)
	}
	return Fallback
}

func detectLatin(text string) string {
	if len(strings.Fields(text)) < minLatinWords {
		return Fallback
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return Fallback
	}
	if e, ok := index[info.Lang.Iso6391()]; ok {
		return e.code2
	}
	return Fallback
}

func hasKana(text string) bool {
	for _, r := range text {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana) {
			return true
		}
	}
	return false
}

// DetectSample joins up to limit non-empty texts and detects their language.
func DetectSample(texts []string, limit int) string {
	sample := make([]string, 0, limit)
	for _, text := range texts {
		if len(sample) >= limit {
			break
		}
		if text = strings.TrimSpace(text); text != "" {
			sample = append(sample, text)
		}
	}
	return Detect(strings.Join(sample, " "))
}
