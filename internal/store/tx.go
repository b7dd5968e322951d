package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Tx groups domain writes so they become visible all at once.
type Tx struct {
	tx  *sql.Tx
	now string
}

// WithTx runs fn inside a write transaction. The transaction commits only
// when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{tx: sqlTx, now: s.timestamp()}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// InsertSceneChange adds a timestamp. created is false when the project
// already had a scene change at exactly that timecode.
func (t *Tx) InsertSceneChange(ctx context.Context, projectID int64, timecode float64, runID string) (id int64, created bool, err error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO scene_changes (project_id, timecode, run_id, created_at)
         VALUES (?, ?, ?, ?)`,
		projectID, timecode, nullableString(runID), t.now,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert scene change: %w", err)
	}
	ok, err := applied(res)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// InsertCharacter adds a speaker.
func (t *Tx) InsertCharacter(ctx context.Context, c Character) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO characters (project_id, name, color, text_color, run_id, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		c.ProjectID, c.Name, c.Color, c.TextColor, nullableString(c.RunID), t.now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert character: %w", err)
	}
	return res.LastInsertId()
}

// InsertTimecode adds a dialogue segment.
func (t *Tx) InsertTimecode(ctx context.Context, tc Timecode) (int64, error) {
	line := tc.LineNumber
	if line <= 0 {
		line = 1
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO timecodes (project_id, line_number, start_time, end_time, text, character_id,
                                show_character, run_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tc.ProjectID, line, tc.Start, tc.End, tc.Text, nullableID(tc.CharacterID),
		boolToInt(tc.ShowCharacter), nullableString(tc.RunID), t.now, t.now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert timecode: %w", err)
	}
	return res.LastInsertId()
}

// ReplaceTimecodeText overwrites a segment's text and returns the previous value.
func (t *Tx) ReplaceTimecodeText(ctx context.Context, id int64, text string) (string, error) {
	var previous string
	if err := t.tx.QueryRowContext(ctx, `SELECT text FROM timecodes WHERE id = ?`, id).Scan(&previous); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("timecode %d not found", id)
		}
		return "", fmt.Errorf("read timecode text: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE timecodes SET text = ?, updated_at = ? WHERE id = ?`, text, t.now, id,
	); err != nil {
		return "", fmt.Errorf("replace timecode text: %w", err)
	}
	return previous, nil
}

// RestoreTimecodeText writes back a saved text. Missing rows are ignored.
func (t *Tx) RestoreTimecodeText(ctx context.Context, id int64, text string) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE timecodes SET text = ?, updated_at = ? WHERE id = ?`, text, t.now, id,
	); err != nil {
		return fmt.Errorf("restore timecode text: %w", err)
	}
	return nil
}

// ProjectField names a nullable project column jobs may overwrite.
type ProjectField string

const (
	FieldSourceLanguage   ProjectField = "source_language"
	FieldTargetLanguage   ProjectField = "target_language"
	FieldDetectedLanguage ProjectField = "detected_language"
	FieldInstrumental     ProjectField = "instrumental_path"
)

func (f ProjectField) valid() bool {
	switch f {
	case FieldSourceLanguage, FieldTargetLanguage, FieldDetectedLanguage, FieldInstrumental:
		return true
	}
	return false
}

// SetProjectField writes one project column and returns its previous value.
func (t *Tx) SetProjectField(ctx context.Context, projectID int64, field ProjectField, value string) (string, error) {
	if !field.valid() {
		return "", fmt.Errorf("unknown project field %q", field)
	}
	var previous sql.NullString
	err := t.tx.QueryRowContext(ctx,
		`SELECT `+string(field)+` FROM projects WHERE id = ?`, projectID,
	).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %d", ErrProjectNotFound, projectID)
	}
	if err != nil {
		return "", fmt.Errorf("read project %s: %w", field, err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE projects SET `+string(field)+` = ?, updated_at = ? WHERE id = ?`,
		nullableString(value), t.now, projectID,
	); err != nil {
		return "", fmt.Errorf("update project %s: %w", field, err)
	}
	return previous.String, nil
}

// DeleteTimecodes removes segments by id.
func (t *Tx) DeleteTimecodes(ctx context.Context, ids []int64) (int64, error) {
	return t.deleteIDs(ctx, "timecodes", ids)
}

// DeleteCharacters removes characters by id.
func (t *Tx) DeleteCharacters(ctx context.Context, ids []int64) (int64, error) {
	return t.deleteIDs(ctx, "characters", ids)
}

// DeleteSceneChanges removes scene changes by id.
func (t *Tx) DeleteSceneChanges(ctx context.Context, ids []int64) (int64, error) {
	return t.deleteIDs(ctx, "scene_changes", ids)
}

func (t *Tx) deleteIDs(ctx context.Context, table string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id IN (`+makePlaceholders(len(ids))+`)`,
		idArgs(ids)...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return res.RowsAffected()
}
