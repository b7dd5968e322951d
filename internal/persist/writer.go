package persist

import (
	"context"

	"rythmo/internal/store"
)

// Writer performs the writes of one Commit.
type Writer struct {
	tx      *store.Tx
	ledger  *Ledger
	checker Checker
	pending *pending
	writes  int
}

// Checkpoint consults the cancellation checker every few writes. The commit
// holds the database write lock, so a check only sees shutdown and cancels
// recorded before the transaction began. A cancel requested meanwhile waits
// for the lock and is caught when the run's completion write finds the slot
// no longer owned, which rolls the results back.
func (w *Writer) Checkpoint(ctx context.Context) error {
	w.writes++
	if w.checker == nil || w.writes%checkpointEvery != 0 {
		return nil
	}
	return w.checker.Check(ctx)
}

// AddSceneChange inserts a timestamp unless the project already has one at
// exactly that time. created reports whether a record was added.
func (w *Writer) AddSceneChange(ctx context.Context, timecode float64) (bool, error) {
	if err := w.Checkpoint(ctx); err != nil {
		return false, err
	}
	id, created, err := w.tx.InsertSceneChange(ctx, w.ledger.ProjectID, timecode, w.ledger.RunID)
	if err != nil || !created {
		return false, err
	}
	w.pending.sceneChanges = append(w.pending.sceneChanges, id)
	return true, nil
}

// AddCharacter inserts a character owned by the project.
func (w *Writer) AddCharacter(ctx context.Context, c store.Character) (int64, error) {
	if err := w.Checkpoint(ctx); err != nil {
		return 0, err
	}
	c.ProjectID = w.ledger.ProjectID
	c.RunID = w.ledger.RunID
	id, err := w.tx.InsertCharacter(ctx, c)
	if err != nil {
		return 0, err
	}
	w.pending.characters = append(w.pending.characters, id)
	return id, nil
}

// AddTimecode inserts a dialogue segment owned by the project.
func (w *Writer) AddTimecode(ctx context.Context, tc store.Timecode) (int64, error) {
	if err := w.Checkpoint(ctx); err != nil {
		return 0, err
	}
	tc.ProjectID = w.ledger.ProjectID
	tc.RunID = w.ledger.RunID
	id, err := w.tx.InsertTimecode(ctx, tc)
	if err != nil {
		return 0, err
	}
	w.pending.timecodes = append(w.pending.timecodes, id)
	return id, nil
}

// ReplaceText overwrites a segment's text, remembering the original.
func (w *Writer) ReplaceText(ctx context.Context, timecodeID int64, text string) error {
	if err := w.Checkpoint(ctx); err != nil {
		return err
	}
	previous, err := w.tx.ReplaceTimecodeText(ctx, timecodeID, text)
	if err != nil {
		return err
	}
	if _, ok := w.pending.texts[timecodeID]; !ok {
		w.pending.texts[timecodeID] = previous
	}
	return nil
}

// SetProjectField writes a project column, remembering the original.
func (w *Writer) SetProjectField(ctx context.Context, field store.ProjectField, value string) error {
	previous, err := w.tx.SetProjectField(ctx, w.ledger.ProjectID, field, value)
	if err != nil {
		return err
	}
	if _, ok := w.pending.fields[field]; !ok {
		w.pending.fields[field] = previous
	}
	return nil
}
