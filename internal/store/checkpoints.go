package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
)

// SaveCheckpoint replaces the snapshot for cp.RunID in one transaction, so
// readers see either the previous snapshot or the new one.
func (s *Store) SaveCheckpoint(cp *domain.Checkpoint) error {
	archJSON, err := marshalNullable(cp.Architecture)
	if err != nil {
		return fmt.Errorf("marshal architecture: %w", err)
	}
	testJSON, err := marshalNullable(cp.TestResult)
	if err != nil {
		return fmt.Errorf("marshal test result: %w", err)
	}

	now := time.Now()
	created := cp.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO checkpoints (run_id, status, description, prompt_type, model, stage, total_roles, architecture, test_result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			description = excluded.description,
			prompt_type = excluded.prompt_type,
			model = excluded.model,
			stage = excluded.stage,
			total_roles = excluded.total_roles,
			architecture = excluded.architecture,
			test_result = excluded.test_result,
			updated_at = excluded.updated_at
	`,
		cp.RunID,
		string(cp.Status),
		cp.Description,
		cp.PromptType,
		cp.Model,
		int(cp.Stage),
		cp.TotalRoles,
		archJSON,
		testJSON,
		toNanos(created),
		toNanos(updated),
	)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM checkpoint_roles WHERE run_id = ?`, cp.RunID); err != nil {
		return fmt.Errorf("clear role results: %w", err)
	}

	for idx, role := range cp.RoleResults {
		promptJSON, err := json.Marshal(role.Prompt)
		if err != nil {
			return fmt.Errorf("marshal role %d: %w", idx, err)
		}
		_, err = tx.Exec(`
			INSERT INTO checkpoint_roles (run_id, role_index, prompt, final_score, iterations)
			VALUES (?, ?, ?, ?, ?)
		`, cp.RunID, idx, string(promptJSON), role.FinalScore, role.Iterations)
		if err != nil {
			return fmt.Errorf("insert role %d: %w", idx, err)
		}
	}

	return tx.Commit()
}

// LoadCheckpoint returns the most recent snapshot for runID or
// domain.ErrCheckpointNotFound.
func (s *Store) LoadCheckpoint(runID string) (*domain.Checkpoint, error) {
	row := s.db.QueryRow(`
		SELECT run_id, status, description, prompt_type, model, stage, total_roles, architecture, test_result, created_at, updated_at
		FROM checkpoints WHERE run_id = ?
	`, runID)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT role_index, prompt, final_score, iterations
		FROM checkpoint_roles WHERE run_id = ? ORDER BY role_index
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var idx, iterations int
		var promptJSON string
		var score float64
		if err := rows.Scan(&idx, &promptJSON, &score, &iterations); err != nil {
			return nil, err
		}
		var prompt domain.RolePrompt
		if err := json.Unmarshal([]byte(promptJSON), &prompt); err != nil {
			return nil, fmt.Errorf("decode role %d: %w", idx, err)
		}
		cp.RoleResults[idx] = domain.CheckpointRole{Prompt: prompt, FinalScore: score, Iterations: iterations}
	}

	return cp, rows.Err()
}

// DeleteCheckpoint removes the snapshot for runID. Deleting a missing
// checkpoint is not an error.
func (s *Store) DeleteCheckpoint(runID string) error {
	_, err := s.db.Exec(`DELETE FROM checkpoints WHERE run_id = ?`, runID)
	return err
}

// ListCheckpoints returns a summary of every checkpoint, most recently
// updated first. When resumableOnly is set, completed and cancelled runs
// are skipped.
func (s *Store) ListCheckpoints(resumableOnly bool) ([]domain.IncompleteRun, error) {
	query := `
		SELECT c.run_id, c.description, c.status, c.stage, c.total_roles, c.updated_at,
			(SELECT COUNT(*) FROM checkpoint_roles r WHERE r.run_id = c.run_id)
		FROM checkpoints c`
	var args []interface{}

	if resumableOnly {
		query += " WHERE c.status NOT IN (?, ?)"
		args = append(args, string(domain.RunCompleted), string(domain.RunCancelled))
	}

	query += " ORDER BY c.updated_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.IncompleteRun
	for rows.Next() {
		var r domain.IncompleteRun
		var status string
		var stage int
		var updated int64
		if err := rows.Scan(&r.RunID, &r.Description, &status, &stage, &r.TotalRoles, &updated, &r.CompletedRoles); err != nil {
			return nil, err
		}
		r.Status = domain.RunStatus(status)
		r.Stage = domain.Stage(stage)
		r.UpdatedAt = fromNanos(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneCheckpoints deletes checkpoints last updated before cutoff and
// returns how many were removed.
func (s *Store) PruneCheckpoints(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM checkpoints WHERE updated_at < ?`, toNanos(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanCheckpoint(row *sql.Row) (*domain.Checkpoint, error) {
	cp := &domain.Checkpoint{RoleResults: make(map[int]domain.CheckpointRole)}
	var status string
	var stage int
	var promptType, model, archJSON, testJSON sql.NullString
	var created, updated int64

	err := row.Scan(&cp.RunID, &status, &cp.Description, &promptType, &model, &stage, &cp.TotalRoles, &archJSON, &testJSON, &created, &updated)
	if err != nil {
		return nil, err
	}

	cp.Status = domain.RunStatus(status)
	cp.Stage = domain.Stage(stage)
	cp.PromptType = promptType.String
	cp.Model = model.String
	cp.CreatedAt = fromNanos(created)
	cp.UpdatedAt = fromNanos(updated)

	if archJSON.Valid && archJSON.String != "" {
		var arch domain.SystemArchitecture
		if err := json.Unmarshal([]byte(archJSON.String), &arch); err != nil {
			return nil, fmt.Errorf("decode architecture: %w", err)
		}
		cp.Architecture = &arch
	}
	if testJSON.Valid && testJSON.String != "" {
		var tr domain.TestResult
		if err := json.Unmarshal([]byte(testJSON.String), &tr); err != nil {
			return nil, fmt.Errorf("decode test result: %w", err)
		}
		cp.TestResult = &tr
	}

	return cp, nil
}

// marshalNullable encodes v as JSON, mapping nil pointers to SQL NULL.
func marshalNullable[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
