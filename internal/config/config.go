package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	VideoDir   string `toml:"video_dir"`
	ScratchDir string `toml:"scratch_dir"`
	LogDir     string `toml:"log_dir"`
}

// API contains the HTTP control surface settings.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Workflow contains job timing: heartbeats, reconciliation and cancellation polling.
type Workflow struct {
	HeartbeatInterval int    `toml:"heartbeat_interval"`
	HeartbeatTimeout  int    `toml:"heartbeat_timeout"`
	ReconcileSchedule string `toml:"reconcile_schedule"`
	CancelRefreshMS   int    `toml:"cancel_refresh_ms"`
	EventBufferSize   int    `toml:"event_buffer_size"`
}

// Tools locates the external binaries and helper scripts.
type Tools struct {
	FFmpeg          string `toml:"ffmpeg"`
	FFprobe         string `toml:"ffprobe"`
	Python          string `toml:"python"`
	ScriptsDir      string `toml:"scripts_dir"`
	EnvironmentFile string `toml:"environment_file"`
}

// SceneDetection configures the ffmpeg scene-change pipeline.
type SceneDetection struct {
	Enabled          bool    `toml:"enabled"`
	DefaultThreshold float64 `toml:"default_threshold"`
	DefaultFPS       float64 `toml:"default_fps"`
	Timeout          int     `toml:"timeout"`
}

// DialogueExtraction configures the transcription and diarization pipeline.
type DialogueExtraction struct {
	Enabled            bool   `toml:"enabled"`
	Script             string `toml:"script"`
	DefaultModel       string `toml:"default_model"`
	DefaultLanguage    string `toml:"default_language"`
	DefaultMaxSpeakers int    `toml:"default_max_speakers"`
	DiarizationMethod  string `toml:"diarization_method"`
	HuggingFaceToken   string `toml:"hf_token"`
	PollIntervalMS     int    `toml:"poll_interval_ms"`
	ExpectedDuration   int    `toml:"expected_duration"`
	Timeout            int    `toml:"timeout"`
}

// Translation configures the segment translation pipeline.
type Translation struct {
	Enabled             bool   `toml:"enabled"`
	Provider            string `toml:"provider"`
	Script              string `toml:"script"`
	ModelSize           string `toml:"model_size"`
	UseCharacterContext bool   `toml:"use_character_context"`
	PacingMS            int    `toml:"pacing_ms"`
	Timeout             int    `toml:"timeout"`
	MyMemoryURL         string `toml:"mymemory_url"`
	MyMemoryEmail       string `toml:"mymemory_email"`
}

// Instrumental configures the source-separation pipeline.
type Instrumental struct {
	Enabled          bool   `toml:"enabled"`
	Script           string `toml:"script"`
	Model            string `toml:"model"`
	PollIntervalMS   int    `toml:"poll_interval_ms"`
	ExpectedDuration int    `toml:"expected_duration"`
	Timeout          int    `toml:"timeout"`
}

// MinIO holds S3-compatible object storage credentials.
type MinIO struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Storage selects where durable job artifacts (instrumental tracks) live.
type Storage struct {
	Backend  string `toml:"backend"`
	LocalDir string `toml:"local_dir"`
	MinIO    MinIO  `toml:"minio"`
}

// Redis configures the optional cross-node event relay.
type Redis struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

// Config encapsulates all configuration values for rythmo.
//
// Configuration sections by subsystem:
//   - Paths: database, video, scratch and log directories
//   - API: HTTP bind address and bearer token
//   - Workflow: heartbeat lease, reconciliation sweep, cancellation refresh
//   - Tools: ffmpeg/ffprobe/python binaries and helper scripts
//   - SceneDetection, DialogueExtraction, Translation, Instrumental: per-pipeline settings
//   - Storage: local or MinIO blob storage for produced audio
//   - Redis: optional event relay between daemons sharing a deployment
type Config struct {
	Paths              Paths              `toml:"paths"`
	API                API                `toml:"api"`
	Logging            Logging            `toml:"logging"`
	Workflow           Workflow           `toml:"workflow"`
	Tools              Tools              `toml:"tools"`
	SceneDetection     SceneDetection     `toml:"scene_detection"`
	DialogueExtraction DialogueExtraction `toml:"dialogue_extraction"`
	Translation        Translation        `toml:"translation"`
	Instrumental       Instrumental       `toml:"instrumental"`
	Storage            Storage            `toml:"storage"`
	Redis              Redis              `toml:"redis"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/rythmo/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("rythmo.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.ScratchDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.LocalDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "rythmo.db")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "rythmod.lock")
}

// PIDPath returns where a running daemon records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "rythmod.pid")
}

// ScriptPath resolves a helper script relative to tools.scripts_dir.
func (c *Config) ScriptPath(script string) string {
	script = strings.TrimSpace(script)
	if script == "" || filepath.IsAbs(script) {
		return script
	}
	return filepath.Join(c.Tools.ScriptsDir, script)
}

// VideoPath resolves a project video reference against paths.video_dir.
func (c *Config) VideoPath(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(c.Paths.VideoDir, ref)
}

// Seconds converts an integer seconds setting into a duration.
func Seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

// Millis converts an integer milliseconds setting into a duration.
func Millis(value int) time.Duration {
	return time.Duration(value) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
