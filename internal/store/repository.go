package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/docrec/internal/pipeline"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = sql.ErrNoRows

// Status values of a stored recognition.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Entry is one stored recognition.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	JobID      string          `json:"job_id,omitempty"`
	ImageHash  string          `json:"image_hash"`
	Template   string          `json:"template"`
	Source     string          `json:"source,omitempty"`
	Status     string          `json:"status"`
	Fields     json.RawMessage `json:"fields,omitempty"`
	Error      string          `json:"error,omitempty"`
	Inliers    int             `json:"inliers"`
	DurationMs int64           `json:"duration_ms"`
}

// HashImage returns the hex SHA-256 of an encoded photo, the cache key of
// stored results.
func HashImage(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// EntryFromOutcome converts a pipeline outcome into a storable entry.
func EntryFromOutcome(out pipeline.Outcome, imageHash string) (*Entry, error) {
	e := &Entry{
		JobID:      out.JobID,
		ImageHash:  imageHash,
		Template:   out.Template,
		Source:     out.Source,
		Status:     StatusDone,
		DurationMs: out.Duration.Milliseconds(),
	}
	if out.Align != nil {
		e.Inliers = out.Align.Inliers
	}
	if out.Err != nil {
		e.Status = StatusFailed
		e.Error = out.Err.Error()
		return e, nil
	}
	fields, err := json.Marshal(out.Record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	e.Fields = fields
	return e, nil
}

// Repository reads and writes recognitions.
type Repository struct{ DB *sql.DB }

// NewRepository wraps db.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

const entryColumns = `id, created_at, job_id, image_hash, template, source, status,
       fields, coalesce(error, '') as error, inliers, duration_ms`

// Save upserts e keyed by (image_hash, template). A zero ID is replaced by
// a fresh UUID; CreatedAt is filled from the database.
func (r *Repository) Save(ctx context.Context, e *Entry) error {
	if e.ImageHash == "" || e.Template == "" {
		return errors.New("image hash and template are required")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var fields any
	if len(e.Fields) > 0 {
		fields = []byte(e.Fields)
	}
	var errText any
	if e.Error != "" {
		errText = e.Error
	}
	const q = `
insert into recognitions (
  id, job_id, image_hash, template, source, status, fields, error, inliers, duration_ms
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
on conflict (image_hash, template) do update
set job_id = excluded.job_id,
    source = excluded.source,
    status = excluded.status,
    fields = excluded.fields,
    error = excluded.error,
    inliers = excluded.inliers,
    duration_ms = excluded.duration_ms,
    created_at = now()
returning id, created_at`
	var id string
	if err := r.DB.QueryRowContext(ctx, q,
		e.ID.String(), e.JobID, e.ImageHash, e.Template, e.Source, e.Status,
		fields, errText, e.Inliers, e.DurationMs,
	).Scan(&id, &e.CreatedAt); err != nil {
		return fmt.Errorf("save recognition: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("save recognition: bad id %q: %w", id, err)
	}
	e.ID = parsed
	return nil
}

// Get loads an entry by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	q := `select ` + entryColumns + ` from recognitions where id = $1`
	return scanEntry(r.DB.QueryRowContext(ctx, q, id.String()))
}

// FindByHash returns the latest successful recognition of a photo against
// a template. With maxAge > 0 older rows count as missing.
func (r *Repository) FindByHash(ctx context.Context, imageHash, tpl string, maxAge time.Duration) (*Entry, error) {
	q := `select ` + entryColumns + `
from recognitions
where image_hash = $1 and template = $2 and status = 'done'
order by created_at desc
limit 1`
	e, err := scanEntry(r.DB.QueryRowContext(ctx, q, imageHash, tpl))
	if err != nil {
		return nil, err
	}
	if maxAge > 0 && time.Since(e.CreatedAt) > maxAge {
		return nil, ErrNotFound
	}
	return e, nil
}

// List returns the newest entries, optionally for one template only.
func (r *Repository) List(ctx context.Context, tpl string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `select ` + entryColumns + `
from recognitions
where ($1 = '' or template = $1)
order by created_at desc
limit $2`
	rows, err := r.DB.QueryContext(ctx, q, tpl, limit)
	if err != nil {
		return nil, fmt.Errorf("list recognitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes entries older than d and returns how many went.
func (r *Repository) PurgeOlderThan(ctx context.Context, d time.Duration) (int64, error) {
	if d <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	res, err := r.DB.ExecContext(ctx, `delete from recognitions where created_at < $1`, time.Now().Add(-d))
	if err != nil {
		return 0, fmt.Errorf("purge recognitions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e      Entry
		id     string
		fields []byte
	)
	if err := row.Scan(&id, &e.CreatedAt, &e.JobID, &e.ImageHash, &e.Template, &e.Source,
		&e.Status, &fields, &e.Error, &e.Inliers, &e.DurationMs); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad id %q: %w", id, err)
	}
	e.ID = parsed
	if len(fields) > 0 {
		e.Fields = json.RawMessage(fields)
	}
	return &e, nil
}
