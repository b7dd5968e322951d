package translation

import (
	"context"
	"fmt"
	"os"
	"strings"

	"rythmo/internal/config"
	"rythmo/internal/procrun"
	"rythmo/internal/services"
	"rythmo/internal/services/mymemory"
	"rythmo/internal/services/nllb"
)

// Backend translates one segment at a time.
type Backend interface {
	// Name is the provider name shown to users.
	Name() string
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// BatchRequest is a whole-project translation.
type BatchRequest struct {
	Source string
	Target string
	Texts  []string
	// Context describes the material (speaker names) for backends that use it.
	Context string
	WorkDir string
}

// BatchBackend translates every segment in one call. Results are matched to
// inputs by index; an empty result counts as a failure.
type BatchBackend interface {
	Backend
	TranslateBatch(ctx context.Context, req BatchRequest) ([]string, error)
}

// NewBackend builds the backend selected by translation.provider.
func NewBackend(cfg *config.Config, runner *procrun.Runner) (Backend, error) {
	t := cfg.Translation
	switch strings.ToLower(strings.TrimSpace(t.Provider)) {
	case config.ProviderNLLB:
		svc, err := nllb.NewService(nllb.Config{
			Python:    cfg.Tools.Python,
			Script:    cfg.ScriptPath(t.Script),
			ModelSize: t.ModelSize,
			Timeout:   config.Seconds(t.Timeout),
		}, runner)
		if err != nil {
			return nil, err
		}
		return &nllbBackend{svc: svc, scratch: cfg.Paths.ScratchDir}, nil
	case config.ProviderMyMemory:
		return &myMemoryBackend{client: mymemory.NewClient(mymemory.Config{
			BaseURL: t.MyMemoryURL,
			Email:   t.MyMemoryEmail,
		})}, nil
	default:
		return nil, fmt.Errorf("%w: unknown translation provider %q", services.ErrConfiguration, t.Provider)
	}
}

type nllbBackend struct {
	svc     *nllb.Service
	scratch string
}

func (b *nllbBackend) Name() string { return "NLLB-200" }

func (b *nllbBackend) TranslateBatch(ctx context.Context, req BatchRequest) ([]string, error) {
	return b.svc.Translate(ctx, nllb.Request{
		Source:  req.Source,
		Target:  req.Target,
		Texts:   req.Texts,
		Context: req.Context,
		WorkDir: req.WorkDir,
	})
}

func (b *nllbBackend) Translate(ctx context.Context, text, source, target string) (string, error) {
	dir, err := os.MkdirTemp(b.scratch, "nllb-")
	if err != nil {
		return "", fmt.Errorf("nllb scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)
	out, err := b.TranslateBatch(ctx, BatchRequest{Source: source, Target: target, Texts: []string{text}, WorkDir: dir})
	if err != nil {
		return "", err
	}
	if len(out) == 0 || strings.TrimSpace(out[0]) == "" {
		return "", fmt.Errorf("%w: nllb returned no translation", services.ErrMalformedOutput)
	}
	return out[0], nil
}

type myMemoryBackend struct {
	client *mymemory.Client
}

func (b *myMemoryBackend) Name() string { return "MyMemory" }

func (b *myMemoryBackend) Translate(ctx context.Context, text, source, target string) (string, error) {
	return b.client.Translate(ctx, text, source, target)
}
