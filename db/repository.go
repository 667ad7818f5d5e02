package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("db: record not found")

// Limits applied to list queries.
const (
	DefaultListLimit = 20
	MaxListLimit     = 500
)

// Generation statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

const timeLayout = "2006-01-02 15:04:05.000"

// GenerationRecord is one row of generation_history.
type GenerationRecord struct {
	ID             int64     `json:"id"`
	RequestID      string    `json:"request_id"`
	Variant        string    `json:"variant"`
	Prompt         string    `json:"prompt"`
	NegativePrompt *string   `json:"negative_prompt,omitempty"`
	Steps          int       `json:"num_inference_steps"`
	GuidanceScale  float64   `json:"guidance_scale"`
	Seed           int64     `json:"seed"`
	Width          *int      `json:"width,omitempty"`
	Height         *int      `json:"height,omitempty"`
	AdapterScale   *float64  `json:"lora_scale,omitempty"`
	CacheKey       string    `json:"cache_key"`
	CacheHit       bool      `json:"cache_hit"`
	DurationMS     int64     `json:"duration_ms"`
	Status         string    `json:"status"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// JobRecord is one row of training_jobs.
type JobRecord struct {
	ID        string    `json:"id"`
	Params    string    `json:"params"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository runs typed queries against a Database.
type Repository struct {
	db  *Database
	now func() time.Time
}

// NewRepository creates a Repository.
func NewRepository(d *Database) *Repository {
	return &Repository{db: d, now: time.Now}
}

func (r *Repository) conn() (*sql.DB, error) {
	if r.db == nil {
		return nil, ErrClosed
	}
	c := r.db.DB()
	if c == nil {
		return nil, ErrClosed
	}
	return c, nil
}

func (r *Repository) timestamp() string {
	return r.now().UTC().Format(timeLayout)
}

// InsertGeneration stores rec and returns its ID. A zero CreatedAt is set
// to now.
func (r *Repository) InsertGeneration(ctx context.Context, rec GenerationRecord) (int64, error) {
	c, err := r.conn()
	if err != nil {
		return 0, err
	}
	created := r.timestamp()
	if !rec.CreatedAt.IsZero() {
		created = rec.CreatedAt.UTC().Format(timeLayout)
	}

	res, err := c.ExecContext(ctx, `
		INSERT INTO generation_history (
			request_id, variant, prompt, negative_prompt, steps, guidance_scale,
			seed, width, height, adapter_scale, cache_key, cache_hit,
			duration_ms, status, error_kind, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Variant, rec.Prompt, rec.NegativePrompt, rec.Steps, rec.GuidanceScale,
		rec.Seed, rec.Width, rec.Height, rec.AdapterScale, rec.CacheKey, rec.CacheHit,
		rec.DurationMS, rec.Status, rec.ErrorKind, rec.ErrorMessage, created,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert generation record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

const generationColumns = `
	id, request_id, variant, prompt, negative_prompt, steps, guidance_scale,
	seed, width, height, adapter_scale, cache_key, cache_hit, duration_ms,
	status, error_kind, error_message, created_at`

// RecentGenerations returns the newest records first. limit is clamped to
// 1..MaxListLimit, with DefaultListLimit for non-positive values.
func (r *Repository) RecentGenerations(ctx context.Context, limit int) ([]GenerationRecord, error) {
	c, err := r.conn()
	if err != nil {
		return nil, err
	}
	rows, err := c.QueryContext(ctx,
		`SELECT `+generationColumns+` FROM generation_history ORDER BY created_at DESC, id DESC LIMIT ?`,
		ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query generation history: %w", err)
	}
	defer rows.Close()

	var out []GenerationRecord
	for rows.Next() {
		rec, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation history: %w", err)
	}
	return out, nil
}

// GenerationByRequestID returns the record for one request.
func (r *Repository) GenerationByRequestID(ctx context.Context, requestID string) (*GenerationRecord, error) {
	c, err := r.conn()
	if err != nil {
		return nil, err
	}
	row := c.QueryRowContext(ctx,
		`SELECT `+generationColumns+` FROM generation_history WHERE request_id = ? ORDER BY id DESC LIMIT 1`,
		requestID)
	rec, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GenerationCounts holds aggregate history counts.
type GenerationCounts struct {
	Total     int64 `json:"total"`
	Failed    int64 `json:"failed"`
	CacheHits int64 `json:"cache_hits"`
}

// CountGenerations aggregates the whole history.
func (r *Repository) CountGenerations(ctx context.Context) (GenerationCounts, error) {
	var n GenerationCounts
	c, err := r.conn()
	if err != nil {
		return n, err
	}
	err = c.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(cache_hit), 0)
		FROM generation_history`, StatusError).Scan(&n.Total, &n.Failed, &n.CacheHits)
	if err != nil {
		return n, fmt.Errorf("failed to count generation history: %w", err)
	}
	return n, nil
}

// UpsertJob inserts a job or updates its status and message.
func (r *Repository) UpsertJob(ctx context.Context, job JobRecord) error {
	c, err := r.conn()
	if err != nil {
		return err
	}
	now := r.timestamp()
	_, err = c.ExecContext(ctx, `
		INSERT INTO training_jobs (id, params, status, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			updated_at = excluded.updated_at`,
		job.ID, job.Params, job.Status, job.Message, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert training job %s: %w", job.ID, err)
	}
	return nil
}

// Job returns one training job.
func (r *Repository) Job(ctx context.Context, id string) (*JobRecord, error) {
	c, err := r.conn()
	if err != nil {
		return nil, err
	}
	var (
		j                JobRecord
		created, updated sqliteTime
	)
	err = c.QueryRowContext(ctx,
		`SELECT id, params, status, message, created_at, updated_at FROM training_jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.Params, &j.Status, &j.Message, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query training job %s: %w", id, err)
	}
	j.CreatedAt, j.UpdatedAt = created.Time, updated.Time
	return &j, nil
}

// ClampLimit applies the list limit rules.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGeneration(s scanner) (GenerationRecord, error) {
	var (
		rec           GenerationRecord
		negative      sql.NullString
		width, height sql.NullInt64
		adapterScale  sql.NullFloat64
		created       sqliteTime
	)
	err := s.Scan(&rec.ID, &rec.RequestID, &rec.Variant, &rec.Prompt, &negative, &rec.Steps,
		&rec.GuidanceScale, &rec.Seed, &width, &height, &adapterScale, &rec.CacheKey,
		&rec.CacheHit, &rec.DurationMS, &rec.Status, &rec.ErrorKind, &rec.ErrorMessage, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("failed to scan generation record: %w", err)
	}
	if negative.Valid {
		rec.NegativePrompt = &negative.String
	}
	if width.Valid {
		w := int(width.Int64)
		rec.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		rec.Height = &h
	}
	if adapterScale.Valid {
		rec.AdapterScale = &adapterScale.Float64
	}
	rec.CreatedAt = created.Time
	return rec, nil
}

// sqliteTime scans DATETIME columns whether the driver hands back a parsed
// time.Time or the stored text.
type sqliteTime struct {
	Time time.Time
}

func (t *sqliteTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = x.UTC()
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	default:
		return fmt.Errorf("unsupported time value %T", v)
	}
	return nil
}

func (t *sqliteTime) parse(s string) error {
	for _, layout := range []string{timeLayout, "2006-01-02 15:04:05", time.RFC3339Nano} {
		if p, err := time.Parse(layout, s); err == nil {
			t.Time = p.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable time %q", s)
}
