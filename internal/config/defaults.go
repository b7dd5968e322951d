package config

const (
	StorageLocal = "local"
	StorageMinIO = "minio"

	ProviderNLLB     = "nllb"
	ProviderMyMemory = "mymemory"
)

const (
	defaultDataDir    = "~/.local/share/rythmo"
	defaultVideoDir   = "~/.local/share/rythmo/videos"
	defaultScratchDir = "~/.local/share/rythmo/scratch"
	defaultLogDir     = "~/.local/share/rythmo/logs"
	defaultBlobDir    = "~/.local/share/rythmo/blobs"
	defaultScriptsDir = "~/.local/share/rythmo/scripts"
	defaultAPIBind    = "127.0.0.1:7490"
	defaultLogFormat  = "console"
	defaultLogLevel   = "info"

	defaultHeartbeatInterval = 15
	defaultHeartbeatTimeout  = 120
	defaultReconcileSchedule = "@every 1m"
	defaultCancelRefreshMS   = 2000
	defaultEventBufferSize   = 512

	defaultSceneThreshold = 0.4
	defaultSceneFPS       = 2
	defaultSceneTimeout   = 3600

	defaultDialogueScript      = "extract_dialogues.py"
	defaultDialogueModel       = "tiny"
	defaultDialogueLanguage    = "auto"
	defaultDialogueMaxSpeakers = 10
	defaultDiarizationMethod   = "mfcc"
	defaultDialoguePollMS      = 2000
	defaultDialogueExpected    = 40
	defaultModelTimeout        = 1800

	defaultTranslationProvider = ProviderNLLB
	defaultTranslationScript   = "translate_nllb.py"
	defaultTranslationModel    = "600M"
	defaultTranslationPacingMS = 100
	defaultMyMemoryURL         = "https://api.mymemory.translated.net/get"

	defaultInstrumentalScript   = "separate_instrumental.py"
	defaultInstrumentalModel    = "htdemucs"
	defaultInstrumentalPollMS   = 3000
	defaultInstrumentalExpected = 120

	defaultMinIOBucket  = "rythmo"
	defaultRedisAddr    = "127.0.0.1:6379"
	defaultRedisChannel = "rythmo:events"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			VideoDir:   defaultVideoDir,
			ScratchDir: defaultScratchDir,
			LogDir:     defaultLogDir,
		},
		API: API{Bind: defaultAPIBind},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Workflow: Workflow{
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
			ReconcileSchedule: defaultReconcileSchedule,
			CancelRefreshMS:   defaultCancelRefreshMS,
			EventBufferSize:   defaultEventBufferSize,
		},
		Tools: Tools{
			FFmpeg:     "ffmpeg",
			FFprobe:    "ffprobe",
			Python:     "python3",
			ScriptsDir: defaultScriptsDir,
		},
		SceneDetection: SceneDetection{
			Enabled:          true,
			DefaultThreshold: defaultSceneThreshold,
			DefaultFPS:       defaultSceneFPS,
			Timeout:          defaultSceneTimeout,
		},
		DialogueExtraction: DialogueExtraction{
			Enabled:            true,
			Script:             defaultDialogueScript,
			DefaultModel:       defaultDialogueModel,
			DefaultLanguage:    defaultDialogueLanguage,
			DefaultMaxSpeakers: defaultDialogueMaxSpeakers,
			DiarizationMethod:  defaultDiarizationMethod,
			PollIntervalMS:     defaultDialoguePollMS,
			ExpectedDuration:   defaultDialogueExpected,
			Timeout:            defaultModelTimeout,
		},
		Translation: Translation{
			Enabled:             true,
			Provider:            defaultTranslationProvider,
			Script:              defaultTranslationScript,
			ModelSize:           defaultTranslationModel,
			UseCharacterContext: true,
			PacingMS:            defaultTranslationPacingMS,
			Timeout:             defaultModelTimeout,
			MyMemoryURL:         defaultMyMemoryURL,
		},
		Instrumental: Instrumental{
			Enabled:          true,
			Script:           defaultInstrumentalScript,
			Model:            defaultInstrumentalModel,
			PollIntervalMS:   defaultInstrumentalPollMS,
			ExpectedDuration: defaultInstrumentalExpected,
			Timeout:          defaultModelTimeout,
		},
		Storage: Storage{
			Backend:  StorageLocal,
			LocalDir: defaultBlobDir,
			MinIO:    MinIO{Bucket: defaultMinIOBucket},
		},
		Redis: Redis{
			Addr:    defaultRedisAddr,
			Channel: defaultRedisChannel,
		},
	}
}
