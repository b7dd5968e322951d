package dialogues_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rythmo/internal/config"
	"rythmo/internal/dialogues"
	"rythmo/internal/logging"
	"rythmo/internal/procrun"
	"rythmo/internal/services"
	"rythmo/internal/store"
	"rythmo/internal/testsupport"
)

type fixture struct {
	cfg     *config.Config
	st      *store.Store
	project *store.Project
	handler *dialogues.Handler
}

// newFixture installs a fake interpreter that sleeps briefly and copies
// result into the output path it receives as third argument.
func newFixture(t *testing.T, lines int, result string) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	resultFile := filepath.Join(base, "result.json")
	require.NoError(t, os.WriteFile(resultFile, []byte(result), 0o644))
	cfg.Tools.Python = testsupport.WriteScript(t, filepath.Join(base, "bin", "python3"),
		fmt.Sprintf("sleep 0.2\ncp %s \"$3\"", resultFile))
	cfg.Tools.FFprobe = testsupport.WriteScript(t, filepath.Join(base, "bin", "ffprobe"), "exit 1")
	testsupport.WriteFile(t, cfg.ScriptPath(cfg.DialogueExtraction.Script), 16)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.VideoDir, "clip.mp4"), 128)

	st := testsupport.MustOpenStore(t, cfg)
	project := testsupport.NewProject(t, st, "Pilot", "clip.mp4", lines)
	return fixture{
		cfg:     cfg,
		st:      st,
		project: project,
		handler: dialogues.New(cfg, st, procrun.New(logging.NewNop()), logging.NewNop()),
	}
}

func transcript(speakers []string, lang string, segments ...string) string {
	payload := map[string]any{
		"success":  true,
		"speakers": speakers,
		"metadata": map[string]any{"language": lang, "duration": 30.0},
	}
	dialoguesList := make([]map[string]any, 0, len(segments))
	for i, seg := range segments {
		speaker, text, _ := strings.Cut(seg, ":")
		dialoguesList = append(dialoguesList, map[string]any{
			"start":   float64(i * 2),
			"end":     float64(i*2 + 1),
			"text":    text,
			"speaker": speaker,
		})
	}
	payload["dialogues"] = dialoguesList
	data, _ := json.Marshal(payload)
	return string(data)
}

func TestPrepare(t *testing.T) {
	f := newFixture(t, 2, `{"success": true}`)
	ctx := context.Background()

	params, err := f.handler.Prepare(ctx, f.project, nil)
	require.NoError(t, err)
	assert.Equal(t, dialogues.Params{Language: "auto", MaxSpeakers: 10, Model: "tiny"}, params)

	params, err = f.handler.Prepare(ctx, f.project, json.RawMessage(`{"language": "FRE", "max_speakers": 4, "model": "Small"}`))
	require.NoError(t, err)
	assert.Equal(t, dialogues.Params{Language: "fr", MaxSpeakers: 4, Model: "small"}, params)

	for _, body := range []string{
		`{"max_speakers": 1}`,
		`{"max_speakers": 21}`,
		`{"model": "huge"}`,
		`{"language": "not a language"}`,
	} {
		_, err := f.handler.Prepare(ctx, f.project, json.RawMessage(body))
		assert.True(t, errors.Is(err, services.ErrValidation), "body %s: %v", body, err)
	}
}

func TestPrepareRefusesExistingTimecodes(t *testing.T) {
	f := newFixture(t, 2, `{"success": true}`)
	ctx := context.Background()
	require.NoError(t, f.st.WithTx(ctx, func(tx *store.Tx) error {
		_, err := tx.InsertTimecode(ctx, store.Timecode{ProjectID: f.project.ID, Start: 1, End: 2, Text: "manual"})
		return err
	}))

	_, err := f.handler.Prepare(ctx, f.project, nil)
	assert.ErrorIs(t, err, services.ErrPrecondition)
}

func TestExecuteCreatesCharactersAndTimecodes(t *testing.T) {
	result := transcript([]string{"SPEAKER_01", "SPEAKER_00"}, "fr",
		"SPEAKER_00:Bonjour", "SPEAKER_01:Salut", "SPEAKER_00:Ça va ?")
	f := newFixture(t, 3, result)
	ctx := context.Background()

	run, reporter, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, f.handler.Feature(),
		dialogues.Params{Language: "auto", MaxSpeakers: 10, Model: "tiny"})
	message, err := f.handler.Execute(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, "3 dialogue(s) extracted, 2 character(s) detected", message)

	characters, err := f.st.ListCharacters(ctx, f.project.ID)
	require.NoError(t, err)
	require.Len(t, characters, 2)
	assert.Equal(t, "Speaker 1", characters[0].Name)
	assert.Equal(t, "#EF4444", characters[0].Color)
	assert.Equal(t, "Speaker 2", characters[1].Name)
	assert.Equal(t, "#3B82F6", characters[1].Color)

	timecodes, err := f.st.ListTimecodes(ctx, f.project.ID)
	require.NoError(t, err)
	require.Len(t, timecodes, 3)
	assert.Equal(t, []int{1, 2, 1}, []int{timecodes[0].LineNumber, timecodes[1].LineNumber, timecodes[2].LineNumber})
	assert.Equal(t, characters[0].ID, timecodes[0].CharacterID)
	assert.Equal(t, characters[1].ID, timecodes[1].CharacterID)
	assert.True(t, timecodes[0].ShowCharacter)

	project, err := f.st.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, "fr", project.DetectedLanguage)

	estimated := 0
	for _, u := range reporter.Updates() {
		if u.Estimated {
			estimated++
			assert.GreaterOrEqual(t, u.Percent, 5)
			assert.LessOrEqual(t, u.Percent, 85)
		}
	}
	assert.Positive(t, estimated, "expected estimated progress while the script runs")
}

func TestExecuteCollapsesLinesWhenTooFew(t *testing.T) {
	result := transcript([]string{"SPEAKER_00", "SPEAKER_01", "SPEAKER_02"}, "en",
		"SPEAKER_00:One", "SPEAKER_01:Two", "SPEAKER_02:Three")
	f := newFixture(t, 1, result)
	ctx := context.Background()

	run, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, f.handler.Feature(),
		dialogues.Params{Language: "en", MaxSpeakers: 10, Model: "tiny"})
	_, err := f.handler.Execute(ctx, run)
	require.NoError(t, err)

	timecodes, err := f.st.ListTimecodes(ctx, f.project.ID)
	require.NoError(t, err)
	for _, tc := range timecodes {
		assert.Equal(t, 1, tc.LineNumber)
	}
}

func TestExecuteCyclesPalette(t *testing.T) {
	speakers := make([]string, 12)
	segments := make([]string, 12)
	for i := range speakers {
		speakers[i] = fmt.Sprintf("SPEAKER_%02d", i)
		segments[i] = speakers[i] + ":line"
	}
	f := newFixture(t, 2, transcript(speakers, "en", segments...))
	ctx := context.Background()

	run, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, f.handler.Feature(),
		dialogues.Params{Language: "en", MaxSpeakers: 20, Model: "tiny"})
	_, err := f.handler.Execute(ctx, run)
	require.NoError(t, err)

	characters, err := f.st.ListCharacters(ctx, f.project.ID)
	require.NoError(t, err)
	require.Len(t, characters, 12)
	assert.Equal(t, dialogues.Palette[0].Background, characters[10].Color)
	assert.Equal(t, dialogues.Palette[1].Background, characters[11].Color)
}

func TestExecuteNoDialogue(t *testing.T) {
	f := newFixture(t, 2, `{"success": true, "dialogues": [], "speakers": []}`)
	run, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, f.handler.Feature(),
		dialogues.Params{Language: "auto", MaxSpeakers: 10, Model: "tiny"})

	message, err := f.handler.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "No dialogue detected", message)
	assert.True(t, run.Ledger.Summary().Empty())
}

func TestExecuteRejectsBadOutput(t *testing.T) {
	cases := map[string]error{
		`{"dialogues": []}`:                     services.ErrMalformedOutput,
		`not json`:                              services.ErrMalformedOutput,
		`{"success": false, "error": "no GPU"}`: services.ErrExternalTool,
	}
	for payload, want := range cases {
		f := newFixture(t, 2, payload)
		run, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, f.handler.Feature(),
			dialogues.Params{Language: "auto", MaxSpeakers: 10, Model: "tiny"})
		_, err := f.handler.Execute(context.Background(), run)
		assert.ErrorIs(t, err, want, "payload %s", payload)
	}
}

func seedCharacter(t *testing.T, f fixture) store.Counts {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.st.WithTx(ctx, func(tx *store.Tx) error {
		_, err := tx.InsertCharacter(ctx, store.Character{ProjectID: f.project.ID, Name: "Narrator", Color: "#000000", TextColor: "#FFFFFF"})
		return err
	}))
	counts, err := f.st.Counts(ctx, f.project.ID)
	require.NoError(t, err)
	return counts
}

func TestCancelDuringTranscriptionLeavesRecordsUnchanged(t *testing.T) {
	f := newFixture(t, 2, transcript([]string{"SPEAKER_00"}, "en", "SPEAKER_00:Hello"))
	f.cfg.Tools.Python = testsupport.WriteScript(t, filepath.Join(testsupport.BaseDir(f.cfg), "bin", "python3"), "sleep 5")
	handler := dialogues.New(f.cfg, f.st, procrun.New(logging.NewNop()), logging.NewNop())
	before := seedCharacter(t, f)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	time.AfterFunc(100*time.Millisecond, func() { cancel(services.ErrCancelled) })

	run, _, _ := testsupport.NewRun(t, f.cfg, f.st, f.project, handler.Feature(),
		dialogues.Params{Language: "auto", MaxSpeakers: 10, Model: "tiny"})
	began := time.Now()
	_, err := handler.Execute(ctx, run)
	require.ErrorIs(t, err, services.ErrCancelled)
	assert.Less(t, time.Since(began), 4*time.Second, "transcription process was not stopped")

	after, err := f.st.Counts(context.Background(), f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.True(t, run.Ledger.Summary().Empty())
}

func TestCancelDuringCommitLeavesRecordsUnchanged(t *testing.T) {
	segments := make([]string, 0, 12)
	for i := range 12 {
		segments = append(segments, fmt.Sprintf("SPEAKER_%02d:line %d", i%2, i))
	}
	f := newFixture(t, 2, transcript([]string{"SPEAKER_00", "SPEAKER_01"}, "en", segments...))
	before := seedCharacter(t, f)

	run, _, checker := testsupport.NewRun(t, f.cfg, f.st, f.project, f.handler.Feature(),
		dialogues.Params{Language: "auto", MaxSpeakers: 10, Model: "tiny"})
	// Four stage entries and the pre-commit check pass; the check after the
	// tenth write inside the transaction trips.
	checker.CancelAfter = 6
	_, err := f.handler.Execute(context.Background(), run)
	require.ErrorIs(t, err, services.ErrCancelled)
	assert.Equal(t, 6, checker.Calls())

	after, err := f.st.Counts(context.Background(), f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.True(t, run.Ledger.Summary().Empty())
}
