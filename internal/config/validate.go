package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/robfig/cron/v3"
)

// WhisperModels lists the transcription model sizes the dialogue script accepts.
var WhisperModels = []string{"tiny", "base", "small", "medium", "large"}

// NLLBModelSizes lists the batch translation model sizes.
var NLLBModelSizes = []string{"600M", "1.3B", "3.3B"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateSceneDetection(); err != nil {
		return err
	}
	if err := c.validateDialogueExtraction(); err != nil {
		return err
	}
	if err := c.validateTranslation(); err != nil {
		return err
	}
	if err := c.validateInstrumental(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateRedis()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.ScratchDir == "" {
		return errors.New("paths.scratch_dir must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than heartbeat_interval")
	}
	if c.Workflow.CancelRefreshMS <= 0 {
		return errors.New("workflow.cancel_refresh_ms must be positive")
	}
	if c.Workflow.EventBufferSize <= 0 {
		return errors.New("workflow.event_buffer_size must be positive")
	}
	if _, err := cron.ParseStandard(c.Workflow.ReconcileSchedule); err != nil {
		return fmt.Errorf("workflow.reconcile_schedule is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateSceneDetection() error {
	s := c.SceneDetection
	if s.DefaultThreshold < 0.1 || s.DefaultThreshold > 1.0 {
		return errors.New("scene_detection.default_threshold must be between 0.1 and 1.0")
	}
	if s.DefaultFPS < 1 || s.DefaultFPS > 30 {
		return errors.New("scene_detection.default_fps must be between 1 and 30")
	}
	if s.Timeout <= 0 {
		return errors.New("scene_detection.timeout must be positive")
	}
	return nil
}

func (c *Config) validateDialogueExtraction() error {
	d := c.DialogueExtraction
	if !d.Enabled {
		return nil
	}
	if d.Script == "" {
		return errors.New("dialogue_extraction.script must be set")
	}
	if !slices.Contains(WhisperModels, d.DefaultModel) {
		return fmt.Errorf("dialogue_extraction.default_model must be one of %v", WhisperModels)
	}
	if d.DefaultMaxSpeakers < 2 || d.DefaultMaxSpeakers > 20 {
		return errors.New("dialogue_extraction.default_max_speakers must be between 2 and 20")
	}
	if d.PollIntervalMS <= 0 || d.ExpectedDuration <= 0 || d.Timeout <= 0 {
		return errors.New("dialogue_extraction.poll_interval_ms, expected_duration and timeout must be positive")
	}
	return nil
}

func (c *Config) validateTranslation() error {
	t := c.Translation
	if !t.Enabled {
		return nil
	}
	switch t.Provider {
	case ProviderNLLB:
		if t.Script == "" {
			return errors.New("translation.script must be set for the nllb provider")
		}
		if !slices.Contains(NLLBModelSizes, t.ModelSize) {
			return fmt.Errorf("translation.model_size must be one of %v", NLLBModelSizes)
		}
	case ProviderMyMemory:
		if t.MyMemoryURL == "" {
			return errors.New("translation.mymemory_url must be set for the mymemory provider")
		}
	default:
		return fmt.Errorf("translation.provider must be nllb or mymemory, got %q", t.Provider)
	}
	if t.PacingMS < 0 {
		return errors.New("translation.pacing_ms must not be negative")
	}
	if t.Timeout <= 0 {
		return errors.New("translation.timeout must be positive")
	}
	return nil
}

func (c *Config) validateInstrumental() error {
	i := c.Instrumental
	if !i.Enabled {
		return nil
	}
	if i.Script == "" {
		return errors.New("instrumental.script must be set")
	}
	if i.PollIntervalMS <= 0 || i.ExpectedDuration <= 0 || i.Timeout <= 0 {
		return errors.New("instrumental.poll_interval_ms, expected_duration and timeout must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set for the local backend")
		}
	case StorageMinIO:
		m := c.Storage.MinIO
		if m.Endpoint == "" || m.Bucket == "" {
			return errors.New("storage.minio.endpoint and storage.minio.bucket must be set for the minio backend")
		}
		if m.AccessKey == "" || m.SecretKey == "" {
			return errors.New("storage.minio.access_key and storage.minio.secret_key must be set (or MINIO_ACCESS_KEY/MINIO_SECRET_KEY)")
		}
	default:
		return fmt.Errorf("storage.backend must be local or minio, got %q", c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateRedis() error {
	if !c.Redis.Enabled {
		return nil
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr must be set when redis is enabled")
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must not be negative")
	}
	return nil
}
