// Package repository implements the storage.Store contract on top of
// database/sql, speaking either PostgreSQL (via pgx/v5's stdlib driver) or
// SQLite (via modernc.org/sqlite) depending on how the *sql.DB was opened.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rezkam/jobcore/internal/core"
	"github.com/rezkam/jobcore/internal/storage"
)

// ErrNotFound is not returned by this package's lookups: a missing job is
// reported as a wrapped core.ErrJobNotFound, a missing parameter as nil.
var ErrNotFound = errors.New("resource not found")

// Store implements storage.Store against a SQL database.
type Store struct {
	db     *sql.DB
	driver string
}

// NewStore wraps an already-open, already-migrated *sql.DB. driver is
// "pgx" or "sqlite" and only affects placeholder syntax.
func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// DB returns the underlying connection pool, for callers (tests, admin
// tooling) that need to run ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ph(n int) string {
	if s.driver == "pgx" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	query := fmt.Sprintf(
		`SELECT id, invocation_id, state_name, state_data, created_at FROM jobs WHERE id = %s`,
		s.ph(1))
	row := s.db.QueryRowContext(ctx, query, jobID)

	var (
		id, invocationID, stateName, stateData string
		createdAt                              time.Time
	)
	if err := row.Scan(&id, &invocationID, &stateName, &stateData, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", jobID, core.ErrJobNotFound)
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}

	state, err := decodeState(stateData)
	if err != nil {
		return nil, fmt.Errorf("decode state for job %s: %w", jobID, err)
	}

	params, err := s.loadParameters(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &core.Job{
		ID:           id,
		InvocationID: invocationID,
		CurrentState: state,
		CreatedAt:    createdAt,
		Parameters:   params,
	}, nil
}

func (s *Store) GetCurrentState(ctx context.Context, jobID string) (core.State, error) {
	query := fmt.Sprintf(`SELECT state_data FROM jobs WHERE id = %s`, s.ph(1))
	row := s.db.QueryRowContext(ctx, query, jobID)

	var stateData string
	if err := row.Scan(&stateData); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.State{}, fmt.Errorf("job %s: %w", jobID, core.ErrJobNotFound)
		}
		return core.State{}, fmt.Errorf("get current state for job %s: %w", jobID, err)
	}
	return decodeState(stateData)
}

func (s *Store) GetJobParameter(ctx context.Context, jobID, name string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT value FROM job_parameters WHERE job_id = %s AND name = %s`, s.ph(1), s.ph(2))
	row := s.db.QueryRowContext(ctx, query, jobID, name)

	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job parameter %q for job %s: %w", name, jobID, err)
	}
	return []byte(value), nil
}

func (s *Store) IsMember(ctx context.Context, setName, value string) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM job_sets WHERE set_name = %s AND value = %s`, s.ph(1), s.ph(2))
	row := s.db.QueryRowContext(ctx, query, setName, value)

	var exists int
	if err := row.Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check membership of %q in set %q: %w", value, setName, err)
	}
	return true, nil
}

func (s *Store) loadParameters(ctx context.Context, jobID string) (core.Parameters, error) {
	query := fmt.Sprintf(`SELECT name, value FROM job_parameters WHERE job_id = %s`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("load parameters for job %s: %w", jobID, err)
	}
	defer rows.Close()

	params := core.Parameters{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan parameter for job %s: %w", jobID, err)
		}
		params[name] = []byte(value)
	}
	return params, rows.Err()
}

// GetJobHistory returns every state jobID has ever been committed into, in
// commit order (§4.7 "atomic state record replacement with history
// append"), read from job_state_history rather than the current-state row.
func (s *Store) GetJobHistory(ctx context.Context, jobID string) ([]core.State, error) {
	query := fmt.Sprintf(`SELECT state_data FROM job_state_history WHERE job_id = %s ORDER BY seq`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("load history for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []core.State
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan history row for job %s: %w", jobID, err)
		}
		state, err := decodeState(data)
		if err != nil {
			return nil, fmt.Errorf("decode history entry for job %s: %w", jobID, err)
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("job %s: %w", jobID, core.ErrJobNotFound)
	}
	return out, nil
}

func (s *Store) BeginTransaction(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlTransaction{tx: tx, driver: s.driver}, nil
}

func decodeState(data string) (core.State, error) {
	var state core.State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return core.State{}, err
	}
	canonical, ok := core.ParseName(string(state.Name))
	if !ok {
		return core.State{}, fmt.Errorf("state name %q: %w", state.Name, core.ErrUnknownState)
	}
	state.Name = canonical
	return state, nil
}

func encodeState(state core.State) (string, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sqlTransaction implements storage.Transaction over a *sql.Tx. Every
// method issues its statement immediately against tx; nothing is visible
// to other connections until Commit, and Discard rolls everything back.
type sqlTransaction struct {
	tx     *sql.Tx
	driver string

	err error // first error encountered; Commit rolls back and returns it
}

func (t *sqlTransaction) ph(n int) string {
	if t.driver == "pgx" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (t *sqlTransaction) fail(err error) error {
	if t.err == nil {
		t.err = err
	}
	return err
}

func (t *sqlTransaction) SetJobState(jobID string, state core.State) error {
	ctx := context.Background()
	data, err := encodeState(state)
	if err != nil {
		return t.fail(fmt.Errorf("encode state: %w", err))
	}

	upsert := fmt.Sprintf(`
		INSERT INTO jobs (id, invocation_id, state_name, state_data, created_at)
		VALUES (%s, '', %s, %s, %s)
		ON CONFLICT (id) DO UPDATE SET state_name = EXCLUDED.state_name, state_data = EXCLUDED.state_data`,
		t.ph(1), t.ph(2), t.ph(3), t.ph(4))
	if _, err := t.tx.ExecContext(ctx, upsert, jobID, string(state.Name), data, time.Now()); err != nil {
		return t.fail(fmt.Errorf("set job state for %s: %w", jobID, err))
	}

	var nextSeq int
	seqQuery := fmt.Sprintf(`SELECT COALESCE(MAX(seq), 0) + 1 FROM job_state_history WHERE job_id = %s`, t.ph(1))
	if err := t.tx.QueryRowContext(ctx, seqQuery, jobID).Scan(&nextSeq); err != nil {
		return t.fail(fmt.Errorf("compute history sequence for %s: %w", jobID, err))
	}

	insertHistory := fmt.Sprintf(`
		INSERT INTO job_state_history (job_id, seq, state_name, state_data, recorded_at)
		VALUES (%s, %s, %s, %s, %s)`,
		t.ph(1), t.ph(2), t.ph(3), t.ph(4), t.ph(5))
	if _, err := t.tx.ExecContext(ctx, insertHistory, jobID, nextSeq, string(state.Name), data, time.Now()); err != nil {
		return t.fail(fmt.Errorf("append history for %s: %w", jobID, err))
	}
	return nil
}

func (t *sqlTransaction) SetJobParameter(jobID, name string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO job_parameters (job_id, name, value)
		VALUES (%s, %s, %s)
		ON CONFLICT (job_id, name) DO UPDATE SET value = EXCLUDED.value`,
		t.ph(1), t.ph(2), t.ph(3))
	if _, err := t.tx.ExecContext(context.Background(), query, jobID, name, string(value)); err != nil {
		return t.fail(fmt.Errorf("set job parameter %q for %s: %w", name, jobID, err))
	}
	return nil
}

func (t *sqlTransaction) AddToSet(setName, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO job_sets (set_name, value) VALUES (%s, %s)
		ON CONFLICT (set_name, value) DO NOTHING`,
		t.ph(1), t.ph(2))
	if _, err := t.tx.ExecContext(context.Background(), query, setName, value); err != nil {
		return t.fail(fmt.Errorf("add %q to set %q: %w", value, setName, err))
	}
	return nil
}

func (t *sqlTransaction) RemoveFromSet(setName, value string) error {
	query := fmt.Sprintf(`DELETE FROM job_sets WHERE set_name = %s AND value = %s`, t.ph(1), t.ph(2))
	if _, err := t.tx.ExecContext(context.Background(), query, setName, value); err != nil {
		return t.fail(fmt.Errorf("remove %q from set %q: %w", value, setName, err))
	}
	return nil
}

func (t *sqlTransaction) AddToList(listName string, value []byte) error {
	ctx := context.Background()
	var nextSeq int
	seqQuery := fmt.Sprintf(`SELECT COALESCE(MAX(seq), -1) + 1 FROM job_lists WHERE list_name = %s`, t.ph(1))
	if err := t.tx.QueryRowContext(ctx, seqQuery, listName).Scan(&nextSeq); err != nil {
		return t.fail(fmt.Errorf("compute next sequence for list %q: %w", listName, err))
	}

	insert := fmt.Sprintf(`INSERT INTO job_lists (list_name, seq, value) VALUES (%s, %s, %s)`,
		t.ph(1), t.ph(2), t.ph(3))
	if _, err := t.tx.ExecContext(ctx, insert, listName, nextSeq, string(value)); err != nil {
		return t.fail(fmt.Errorf("append to list %q: %w", listName, err))
	}
	return nil
}

func (t *sqlTransaction) TrimList(listName string, start, end int) error {
	ctx := context.Background()
	deleteBefore := fmt.Sprintf(`DELETE FROM job_lists WHERE list_name = %s AND seq < %s`, t.ph(1), t.ph(2))
	if _, err := t.tx.ExecContext(ctx, deleteBefore, listName, start); err != nil {
		return t.fail(fmt.Errorf("trim list %q (start): %w", listName, err))
	}
	if end >= 0 {
		deleteAfter := fmt.Sprintf(`DELETE FROM job_lists WHERE list_name = %s AND seq > %s`, t.ph(1), t.ph(2))
		if _, err := t.tx.ExecContext(ctx, deleteAfter, listName, end); err != nil {
			return t.fail(fmt.Errorf("trim list %q (end): %w", listName, err))
		}
	}
	return nil
}

func (t *sqlTransaction) Commit(ctx context.Context) error {
	if t.err != nil {
		_ = t.tx.Rollback()
		return t.err
	}
	return t.tx.Commit()
}

func (t *sqlTransaction) Discard(ctx context.Context) error {
	err := t.tx.Rollback()
	if err != nil && errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
