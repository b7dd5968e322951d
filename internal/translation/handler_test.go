package translation_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rythmo/internal/config"
	"rythmo/internal/logging"
	"rythmo/internal/procrun"
	"rythmo/internal/services"
	"rythmo/internal/store"
	"rythmo/internal/testsupport"
	"rythmo/internal/translation"
)

type fakeBackend struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (b *fakeBackend) Name() string { return "Fake" }

func (b *fakeBackend) Translate(_ context.Context, text, _, target string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, text)
	if b.fail[text] {
		return "", errors.New("provider refused")
	}
	return "[" + target + "] " + text, nil
}

type fakeBatch struct {
	fakeBackend
	requests []translation.BatchRequest
	result   []string
}

func (b *fakeBatch) TranslateBatch(_ context.Context, req translation.BatchRequest) ([]string, error) {
	b.requests = append(b.requests, req)
	return b.result, nil
}

type fixture struct {
	cfg     *config.Config
	st      *store.Store
	project *store.Project
	ids     []int64
}

func newFixture(t *testing.T, texts ...string) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	project := testsupport.NewProject(t, st, "Pilot", "", 1)
	ctx := context.Background()
	var ids []int64
	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		charID, err := tx.InsertCharacter(ctx, store.Character{ProjectID: project.ID, Name: "Anna", Color: "#3B82F6", TextColor: "#FFFFFF"})
		if err != nil {
			return err
		}
		for i, text := range texts {
			id, err := tx.InsertTimecode(ctx, store.Timecode{
				ProjectID:   project.ID,
				Start:       float64(i),
				End:         float64(i) + 0.5,
				Text:        text,
				CharacterID: charID,
			})
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	}))
	return fixture{cfg: cfg, st: st, project: project, ids: ids}
}

func (f fixture) texts(t *testing.T) []string {
	t.Helper()
	timecodes, err := f.st.ListTimecodes(context.Background(), f.project.ID)
	require.NoError(t, err)
	out := make([]string, len(timecodes))
	for i, tc := range timecodes {
		out[i] = tc.Text
	}
	return out
}

func TestPrepare(t *testing.T) {
	f := newFixture(t, "Hello")
	h := translation.New(f.cfg, f.st, &fakeBackend{}, logging.NewNop())
	ctx := context.Background()

	params, err := h.Prepare(ctx, f.project, json.RawMessage(`{"target_language": "FR"}`))
	require.NoError(t, err)
	assert.Equal(t, translation.Params{TargetLanguage: "fr", SourceLanguage: "auto"}, params)

	params, err = h.Prepare(ctx, f.project, json.RawMessage(`{"target_language": "de", "source_language": "eng"}`))
	require.NoError(t, err)
	assert.Equal(t, translation.Params{TargetLanguage: "de", SourceLanguage: "en"}, params)

	for _, body := range []string{
		`{}`,
		`{"target_language": "x"}`,
		`{"target_language": "toolong"}`,
		`{"target_language": "fr", "source_language": "fr"}`,
		`{"target_language": "fr", "extra": 1}`,
	} {
		_, err := h.Prepare(ctx, f.project, json.RawMessage(body))
		assert.True(t, errors.Is(err, services.ErrValidation), "body %s: %v", body, err)
	}
}

func TestPrepareRequiresTimecodes(t *testing.T) {
	f := newFixture(t)
	h := translation.New(f.cfg, f.st, &fakeBackend{}, logging.NewNop())

	_, err := h.Prepare(context.Background(), f.project, json.RawMessage(`{"target_language": "fr"}`))
	assert.ErrorIs(t, err, services.ErrPrecondition)
}

func TestSequentialTranslation(t *testing.T) {
	f := newFixture(t, "one", "two", "", "three")
	f.cfg.Translation.PacingMS = 100
	backend := &fakeBackend{fail: map[string]bool{"two": true}}
	var pauses []time.Duration
	h := translation.New(f.cfg, f.st, backend, logging.NewNop(),
		translation.WithSleeper(func(_ context.Context, d time.Duration) error {
			pauses = append(pauses, d)
			return nil
		}))
	ctx := context.Background()

	run, reporter, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureTranslation,
		translation.Params{TargetLanguage: "fr", SourceLanguage: "en"})
	message, err := h.Execute(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, "2 segment(s) translated with Fake, 1 failure(s) (en -> fr)", message)

	assert.Equal(t, []string{"one", "two", "three"}, backend.calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, pauses)
	assert.Equal(t, []string{"[fr] one", "two", "", "[fr] three"}, f.texts(t))

	project, err := f.st.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, "en", project.SourceLanguage)
	assert.Equal(t, "fr", project.TargetLanguage)

	percents := reporter.Percents()
	require.NotEmpty(t, percents)
	assert.Equal(t, 0, percents[0])
	assert.Equal(t, 90, percents[len(percents)-1])
}

func TestBatchTranslation(t *testing.T) {
	f := newFixture(t, "one", "two", "three")
	backend := &fakeBatch{result: []string{"un", "", "trois"}}
	h := translation.New(f.cfg, f.st, backend, logging.NewNop())

	run, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureTranslation,
		translation.Params{TargetLanguage: "fr", SourceLanguage: "en"})
	message, err := h.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "2 segment(s) translated with Fake, 1 failure(s) (en -> fr)", message)

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.Equal(t, []string{"one", "two", "three"}, req.Texts)
	assert.Equal(t, "Film dialogue. Characters: Anna", req.Context)
	assert.Equal(t, run.Workspace.Dir(), req.WorkDir)
	assert.Empty(t, backend.calls)
	assert.Equal(t, []string{"un", "two", "trois"}, f.texts(t))
}

func TestShortBatchCountsMissingAsFailures(t *testing.T) {
	f := newFixture(t, "one", "two", "three")
	backend := &fakeBatch{result: []string{"un"}}
	h := translation.New(f.cfg, f.st, backend, logging.NewNop())

	run, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureTranslation,
		translation.Params{TargetLanguage: "fr", SourceLanguage: "en"})
	message, err := h.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Contains(t, message, "1 segment(s) translated with Fake, 2 failure(s)")
}

func TestAllSegmentsFailed(t *testing.T) {
	f := newFixture(t, "one", "two")
	backend := &fakeBackend{fail: map[string]bool{"one": true, "two": true}}
	h := translation.New(f.cfg, f.st, backend, logging.NewNop())

	run, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureTranslation,
		translation.Params{TargetLanguage: "fr", SourceLanguage: "en"})
	_, err := h.Execute(context.Background(), run)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrPartialFailure)
	assert.Equal(t, []string{"one", "two"}, f.texts(t))

	project, err := f.st.GetProject(context.Background(), f.project.ID)
	require.NoError(t, err)
	assert.Empty(t, project.TargetLanguage)
}

func TestCancelledTranslationLeavesTextsUnchanged(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	f := newFixture(t, texts...)
	backend := &fakeBackend{}
	h := translation.New(f.cfg, f.st, backend, logging.NewNop())

	run, _, checker := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureTranslation,
		translation.Params{TargetLanguage: "fr", SourceLanguage: "en"})
	// Two stage entries and the first batch checkpoint pass; the second trips.
	checker.CancelAfter = 4
	_, err := h.Execute(context.Background(), run)
	assert.ErrorIs(t, err, services.ErrCancelled)
	assert.Len(t, backend.calls, 5)
	assert.Equal(t, texts, f.texts(t))
}

func TestDetectsSourceLanguage(t *testing.T) {
	f := newFixture(t,
		"Hello there, how are you doing today?",
		"I am doing very well, thank you for asking.",
		"Where are we going tonight with all of our friends?",
	)
	h := translation.New(f.cfg, f.st, &fakeBackend{}, logging.NewNop())

	run, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, store.FeatureTranslation,
		translation.Params{TargetLanguage: "ja", SourceLanguage: "auto"})
	message, err := h.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(message, "-> ja)"), message)

	project, err := f.st.GetProject(context.Background(), f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, "en", project.SourceLanguage)
	assert.Equal(t, "ja", project.TargetLanguage)
}

func TestNLLBBackendForwardsCharacterContext(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	cfg.Tools.Python = testsupport.WriteScript(t, filepath.Join(dir, "python3"), `
echo "$@" > `+argsFile+`
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift ;;
  esac
  shift
done
printf '{"success": true, "translations": ["Bonjour"]}' > "$out"
`)
	cfg.Translation.Provider = config.ProviderNLLB
	cfg.Translation.Script = "translate_nllb.py"

	backend, err := translation.NewBackend(cfg, procrun.New(nil))
	require.NoError(t, err)
	batch, ok := backend.(translation.BatchBackend)
	require.True(t, ok, "nllb backend translates in batches")

	out, err := batch.TranslateBatch(context.Background(), translation.BatchRequest{
		Source:  "en",
		Target:  "fr",
		Texts:   []string{"Hello"},
		Context: "Film dialogue. Characters: Anna",
		WorkDir: dir,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bonjour"}, out)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "--context Film dialogue. Characters: Anna")
}
