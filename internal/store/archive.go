package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/paramgraph/internal/param"
)

// ErrNotFound is returned when no snapshot matches a lookup.
var ErrNotFound = errors.New("snapshot not found")

// Record summarises one archived snapshot.
type Record struct {
	Version     int64
	GeneratedAt time.Time
	Digest      string
	Size        int
}

// NextVersion issues the next snapshot version.
// The counter lives in the database, so it is monotonic across processes.
func (s *Store) NextVersion(ctx context.Context) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO versions (id, current) VALUES (1, 1)
		ON CONFLICT(id) DO UPDATE SET current = current + 1
		RETURNING current
	`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	return next, nil
}

// Save archives an exported snapshot.
// Saving a version twice is an error; archived snapshots are immutable.
func (s *Store) Save(ctx context.Context, snap *param.Snapshot) error {
	version, err := strconv.ParseInt(snap.Version, 10, 64)
	if err != nil {
		return fmt.Errorf("save snapshot: version %q is not an integer", snap.Version)
	}
	body, err := param.MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (version, generated_at, digest, body)
		VALUES (?, ?, ?, ?)
	`,
		version,
		snap.GeneratedAt.UTC().Format(time.RFC3339Nano),
		snap.Digest,
		body,
	)
	if err != nil {
		return fmt.Errorf("save snapshot %d: %w", version, err)
	}

	// Keep the counter ahead of any version saved from elsewhere.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO versions (id, current) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET current = MAX(current, excluded.current)
	`, version)
	if err != nil {
		return fmt.Errorf("save snapshot %d: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot %d: %w", version, err)
	}
	return nil
}

// Latest returns the snapshot with the highest version.
// Returns ErrNotFound if the archive is empty.
func (s *Store) Latest(ctx context.Context) (*param.Snapshot, error) {
	return s.readBody(ctx, `SELECT body FROM snapshots ORDER BY version DESC LIMIT 1`)
}

// Get returns the snapshot with the given version.
func (s *Store) Get(ctx context.Context, version int64) (*param.Snapshot, error) {
	return s.readBody(ctx, `SELECT body FROM snapshots WHERE version = ?`, version)
}

// FindByDigest returns the lowest version whose content digest matches.
func (s *Store) FindByDigest(ctx context.Context, digest string) (Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, generated_at, digest, length(body)
		FROM snapshots
		WHERE digest = ?
		ORDER BY version ASC
		LIMIT 1
	`, digest)
	if err != nil {
		return Record{}, fmt.Errorf("find by digest: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return Record{}, fmt.Errorf("find by digest: %w", err)
	}
	if len(records) == 0 {
		return Record{}, ErrNotFound
	}
	return records[0], nil
}

// List returns archived snapshots, newest first. A limit of zero or less
// returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `
		SELECT version, generated_at, digest, length(body)
		FROM snapshots
		ORDER BY version DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return records, nil
}

func (s *Store) readBody(ctx context.Context, query string, args ...any) (*param.Snapshot, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap param.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return &snap, nil
}

// scanRecords reads and closes rows. Returns an empty slice (not nil) when
// there are no rows.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r           Record
			generatedAt string
		)
		if err := rows.Scan(&r.Version, &generatedAt, &r.Digest, &r.Size); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, generatedAt)
		if err != nil {
			return nil, fmt.Errorf("version %d: generated_at: %w", r.Version, err)
		}
		r.GeneratedAt = ts
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
