package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

// DefaultHistoryLimit is the number of history records kept by AddHistory.
const DefaultHistoryLimit = 100

// AddHistory inserts a record and trims the table to the newest limit
// records. A zero limit uses DefaultHistoryLimit.
func (s *Store) AddHistory(rec *domain.HistoryRecord, limit int) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO history (id, run_id, description, prompt_type, model, system_name, total_roles, average_score, result_dir, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.RunID,
		rec.Description,
		rec.PromptType,
		rec.Model,
		rec.SystemName,
		rec.TotalRoles,
		rec.AverageScore,
		rec.ResultDir,
		toNanos(rec.CreatedAt),
	)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(trimHistoryQuery, limit); err != nil {
		return err
	}
	return tx.Commit()
}

// TrimHistory keeps the newest limit records and returns how many were
// removed.
func (s *Store) TrimHistory(limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	res, err := s.db.Exec(trimHistoryQuery, limit)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const trimHistoryQuery = `
	DELETE FROM history WHERE id NOT IN (
		SELECT id FROM history ORDER BY created_at DESC LIMIT ?
	)
`

// ListHistory returns history records, newest first.
func (s *Store) ListHistory() ([]*domain.HistoryRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, description, prompt_type, model, system_name, total_roles, average_score, result_dir, created_at
		FROM history ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.HistoryRecord
	for rows.Next() {
		var rec domain.HistoryRecord
		var promptType, model, systemName, resultDir sql.NullString
		var created int64
		err := rows.Scan(&rec.ID, &rec.RunID, &rec.Description, &promptType, &model, &systemName,
			&rec.TotalRoles, &rec.AverageScore, &resultDir, &created)
		if err != nil {
			return nil, err
		}
		rec.PromptType = promptType.String
		rec.Model = model.String
		rec.SystemName = systemName.String
		rec.ResultDir = resultDir.String
		rec.CreatedAt = fromNanos(created)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// DeleteHistory removes one record. It reports whether a record existed.
func (s *Store) DeleteHistory(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClearHistory removes every record.
func (s *Store) ClearHistory() error {
	_, err := s.db.Exec(`DELETE FROM history`)
	return err
}
