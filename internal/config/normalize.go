package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeTools(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeLogging()
	c.normalizePipelines()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	c.Redis.Channel = strings.TrimSpace(c.Redis.Channel)
	if c.Redis.Channel == "" {
		c.Redis.Channel = defaultRedisChannel
	}
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key   string
		value *string
	}{
		{"paths.data_dir", &c.Paths.DataDir},
		{"paths.video_dir", &c.Paths.VideoDir},
		{"paths.scratch_dir", &c.Paths.ScratchDir},
		{"paths.log_dir", &c.Paths.LogDir},
	}
	for _, f := range fields {
		expanded, err := expandPath(strings.TrimSpace(*f.value))
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		*f.value = expanded
	}
	return nil
}

func (c *Config) normalizeTools() error {
	c.Tools.FFmpeg = strings.TrimSpace(c.Tools.FFmpeg)
	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = "ffmpeg"
	}
	c.Tools.FFprobe = strings.TrimSpace(c.Tools.FFprobe)
	if c.Tools.FFprobe == "" {
		c.Tools.FFprobe = "ffprobe"
	}
	c.Tools.Python = strings.TrimSpace(c.Tools.Python)
	if c.Tools.Python == "" {
		c.Tools.Python = "python3"
	}
	var err error
	if c.Tools.ScriptsDir, err = expandPath(strings.TrimSpace(c.Tools.ScriptsDir)); err != nil {
		return fmt.Errorf("tools.scripts_dir: %w", err)
	}
	if c.Tools.EnvironmentFile, err = expandPath(strings.TrimSpace(c.Tools.EnvironmentFile)); err != nil {
		return fmt.Errorf("tools.environment_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("RYTHMO_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizePipelines() {
	c.Workflow.ReconcileSchedule = strings.TrimSpace(c.Workflow.ReconcileSchedule)
	if c.Workflow.ReconcileSchedule == "" {
		c.Workflow.ReconcileSchedule = defaultReconcileSchedule
	}

	d := &c.DialogueExtraction
	d.Script = strings.TrimSpace(d.Script)
	d.DefaultModel = strings.ToLower(strings.TrimSpace(d.DefaultModel))
	d.DefaultLanguage = strings.ToLower(strings.TrimSpace(d.DefaultLanguage))
	if d.DefaultLanguage == "" {
		d.DefaultLanguage = defaultDialogueLanguage
	}
	d.DiarizationMethod = strings.ToLower(strings.TrimSpace(d.DiarizationMethod))
	if d.DiarizationMethod == "" {
		d.DiarizationMethod = defaultDiarizationMethod
	}
	d.HuggingFaceToken = strings.TrimSpace(d.HuggingFaceToken)
	if d.HuggingFaceToken == "" {
		if value, ok := os.LookupEnv("HF_TOKEN"); ok {
			d.HuggingFaceToken = strings.TrimSpace(value)
		}
	}

	t := &c.Translation
	t.Provider = strings.ToLower(strings.TrimSpace(t.Provider))
	if t.Provider == "" {
		t.Provider = defaultTranslationProvider
	}
	t.Script = strings.TrimSpace(t.Script)
	t.ModelSize = strings.ToUpper(strings.TrimSpace(t.ModelSize))
	t.MyMemoryURL = strings.TrimSpace(t.MyMemoryURL)
	if t.MyMemoryURL == "" {
		t.MyMemoryURL = defaultMyMemoryURL
	}
	t.MyMemoryEmail = strings.TrimSpace(t.MyMemoryEmail)

	c.Instrumental.Script = strings.TrimSpace(c.Instrumental.Script)
	c.Instrumental.Model = strings.TrimSpace(c.Instrumental.Model)
	if c.Instrumental.Model == "" {
		c.Instrumental.Model = defaultInstrumentalModel
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	var err error
	if c.Storage.LocalDir, err = expandPath(strings.TrimSpace(c.Storage.LocalDir)); err != nil {
		return fmt.Errorf("storage.local_dir: %w", err)
	}
	m := &c.Storage.MinIO
	m.Endpoint = strings.TrimSpace(m.Endpoint)
	m.Bucket = strings.TrimSpace(m.Bucket)
	m.Region = strings.TrimSpace(m.Region)
	if m.AccessKey == "" {
		m.AccessKey = os.Getenv("MINIO_ACCESS_KEY")
	}
	if m.SecretKey == "" {
		m.SecretKey = os.Getenv("MINIO_SECRET_KEY")
	}
	return nil
}
