package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const projectColumns = `id, name, video_path, rythmo_lines_count, source_language, target_language,
    detected_language, instrumental_path, created_at, updated_at`

func scanProject(row scanner) (*Project, error) {
	var (
		project      Project
		videoPath    sql.NullString
		sourceLang   sql.NullString
		targetLang   sql.NullString
		detectedLang sql.NullString
		instrumental sql.NullString
		createdAt    string
		updatedAt    string
	)
	if err := row.Scan(
		&project.ID,
		&project.Name,
		&videoPath,
		&project.RythmoLinesCount,
		&sourceLang,
		&targetLang,
		&detectedLang,
		&instrumental,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	project.VideoPath = videoPath.String
	project.SourceLanguage = sourceLang.String
	project.TargetLanguage = targetLang.String
	project.DetectedLanguage = detectedLang.String
	project.InstrumentalPath = instrumental.String
	if ts, err := parseTimeString(createdAt); err == nil {
		project.CreatedAt = ts
	}
	if ts, err := parseTimeString(updatedAt); err == nil {
		project.UpdatedAt = ts
	}
	return &project, nil
}

// CreateProject inserts a project. Line count defaults to 1.
func (s *Store) CreateProject(ctx context.Context, name, videoPath string, lines int) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("project name is required")
	}
	if lines <= 0 {
		lines = 1
	}
	now := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO projects (name, video_path, rythmo_lines_count, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		name, nullableString(strings.TrimSpace(videoPath)), lines, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("project id: %w", err)
	}
	return s.GetProject(ctx, id)
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id int64) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// Counts returns how many domain records the project owns.
func (s *Store) Counts(ctx context.Context, projectID int64) (Counts, error) {
	var counts Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT
            (SELECT COUNT(1) FROM scene_changes WHERE project_id = ?),
            (SELECT COUNT(1) FROM timecodes WHERE project_id = ?),
            (SELECT COUNT(1) FROM characters WHERE project_id = ?)`,
		projectID, projectID, projectID,
	).Scan(&counts.SceneChanges, &counts.Timecodes, &counts.Characters)
	if err != nil {
		return Counts{}, fmt.Errorf("count project records: %w", err)
	}
	return counts, nil
}

// ListSceneChanges returns scene changes ordered by timecode.
func (s *Store) ListSceneChanges(ctx context.Context, projectID int64) ([]SceneChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, timecode, run_id FROM scene_changes
         WHERE project_id = ? ORDER BY timecode`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list scene changes: %w", err)
	}
	defer rows.Close()

	var changes []SceneChange
	for rows.Next() {
		var (
			change SceneChange
			runID  sql.NullString
		)
		if err := rows.Scan(&change.ID, &change.ProjectID, &change.Timecode, &runID); err != nil {
			return nil, err
		}
		change.RunID = runID.String
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

// ListCharacters returns characters in creation order.
func (s *Store) ListCharacters(ctx context.Context, projectID int64) ([]Character, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, color, text_color, run_id FROM characters
         WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var characters []Character
	for rows.Next() {
		var (
			character Character
			runID     sql.NullString
		)
		if err := rows.Scan(&character.ID, &character.ProjectID, &character.Name,
			&character.Color, &character.TextColor, &runID); err != nil {
			return nil, err
		}
		character.RunID = runID.String
		characters = append(characters, character)
	}
	return characters, rows.Err()
}

// ListTimecodes returns dialogue segments ordered by start time.
func (s *Store) ListTimecodes(ctx context.Context, projectID int64) ([]Timecode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, line_number, start_time, end_time, text, character_id,
                show_character, run_id
         FROM timecodes WHERE project_id = ? ORDER BY start_time, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list timecodes: %w", err)
	}
	defer rows.Close()

	var timecodes []Timecode
	for rows.Next() {
		var (
			tc          Timecode
			characterID sql.NullInt64
			show        int
			runID       sql.NullString
		)
		if err := rows.Scan(&tc.ID, &tc.ProjectID, &tc.LineNumber, &tc.Start, &tc.End,
			&tc.Text, &characterID, &show, &runID); err != nil {
			return nil, err
		}
		tc.CharacterID = characterID.Int64
		tc.ShowCharacter = show != 0
		tc.RunID = runID.String
		timecodes = append(timecodes, tc)
	}
	return timecodes, rows.Err()
}
