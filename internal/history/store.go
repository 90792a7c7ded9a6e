// Package history keeps an append-only audit trail of process state
// transitions in SQLite. It is never read back into the dispatcher core.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/conductor/internal/pd"
)

var ErrNotFound = errors.New("no history for process")

// timeLayout is fixed width so recorded_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded transition.
type Entry struct {
	ID         int64     `json:"id"`
	EPID       string    `json:"epid"`
	Round      int       `json:"round"`
	State      pd.State  `json:"state"`
	Assigned   string    `json:"assigned,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Notify records p, so a Store can sit alongside the other notifiers.
func (s *Store) Notify(ctx context.Context, p pd.Process) error {
	_, err := s.Record(ctx, p)
	return err
}

// Record appends the current state of p and returns the new row id.
func (s *Store) Record(ctx context.Context, p pd.Process) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO process_history(epid, round, state, assigned, recorded_at)
VALUES(?, ?, ?, ?, ?);`,
		p.EPID, p.Round, p.State.String(), nullIfEmpty(p.Assigned), s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("record history for %s: %w", p.EPID, err)
	}
	return res.LastInsertId()
}

// List returns the history of epid, oldest first.
func (s *Store) List(ctx context.Context, epid string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, epid, round, state, assigned, recorded_at
FROM process_history
WHERE epid = ?
ORDER BY id ASC;`, epid)
	if err != nil {
		return nil, fmt.Errorf("list history for %s: %w", epid, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			state      string
			assigned   sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&e.ID, &e.EPID, &e.Round, &state, &assigned, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if e.State, err = pd.ParseState(state); err != nil {
			return nil, fmt.Errorf("history row %d: %w", e.ID, err)
		}
		e.Assigned = assigned.String
		if e.RecordedAt, err = time.Parse(timeLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("history row %d: parse recorded_at: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, epid)
	}
	return out, nil
}

// Prune deletes entries older than retention and returns how many were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-retention).Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM process_history WHERE recorded_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
