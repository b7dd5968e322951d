package whisper

import "time"

// Config captures runtime settings for the transcription script.
type Config struct {
	Python            string
	Script            string
	DiarizationMethod string
	HFToken           string
	// EnvFile is an optional dotenv file merged into the script environment.
	EnvFile string
	Timeout time.Duration
}

// Models lists the accepted Whisper model sizes.
var Models = []string{"tiny", "base", "small", "medium", "large", "large-v2", "large-v3"}

const (
	DefaultDiarizationMethod = "mfcc"
	DefaultSpeaker           = "SPEAKER_00"
	AutoLanguage             = "auto"
)
