package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/filezenith/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	format TEXT NOT NULL DEFAULT '',
	watermark JSONB,
	preview_width INTEGER NOT NULL DEFAULT 0,
	preview_height INTEGER NOT NULL DEFAULT 0,
	sources JSONB NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	outputs JSONB NOT NULL DEFAULT '[]',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	bytes_in BIGINT NOT NULL,
	bytes_out BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const selectJobSQL = `SELECT id, kind, status, source_type, format, watermark, preview_width, preview_height,
	sources, webhook_url, outputs, error, created_at, updated_at
 FROM jobs
 WHERE id = $1`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	sourcesJSON, err := json.Marshal(job.Sources)
	if err != nil {
		return fmt.Errorf("marshal job sources: %w", err)
	}
	outputsJSON, err := marshalOutputs(job.Outputs)
	if err != nil {
		return err
	}
	var watermarkJSON any
	if job.Watermark != nil {
		data, err := json.Marshal(job.Watermark)
		if err != nil {
			return fmt.Errorf("marshal job watermark: %w", err)
		}
		watermarkJSON = string(data)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (id, kind, status, source_type, format, watermark, preview_width, preview_height,
			sources, webhook_url, outputs, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID,
		job.Kind,
		job.Status,
		job.SourceType,
		job.Format,
		watermarkJSON,
		job.Preview.Width,
		job.Preview.Height,
		sourcesJSON,
		job.WebhookURL,
		outputsJSON,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, selectJobSQL, id)

	var (
		job           domain.Job
		watermarkJSON []byte
		sourcesJSON   []byte
		outputsJSON   []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.Status,
		&job.SourceType,
		&job.Format,
		&watermarkJSON,
		&job.Preview.Width,
		&job.Preview.Height,
		&sourcesJSON,
		&job.WebhookURL,
		&outputsJSON,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(sourcesJSON, &job.Sources); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job sources: %w", err)
	}
	if err := json.Unmarshal(outputsJSON, &job.Outputs); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job outputs: %w", err)
	}
	if len(watermarkJSON) > 0 {
		var wm domain.WatermarkSpec
		if err := json.Unmarshal(watermarkJSON, &wm); err != nil {
			return domain.Job{}, false, fmt.Errorf("unmarshal job watermark: %w", err)
		}
		job.Watermark = &wm
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.exec(ctx, id, "update job status",
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) Complete(ctx context.Context, id string, outputs []domain.JobOutput) (domain.Job, error) {
	outputsJSON, err := marshalOutputs(outputs)
	if err != nil {
		return domain.Job{}, err
	}
	return s.exec(ctx, id, "complete job",
		`UPDATE jobs SET status = $1, outputs = $2, error = '', updated_at = $3 WHERE id = $4`,
		domain.JobStatusSucceeded, outputsJSON, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) Fail(ctx context.Context, id, reason string) (domain.Job, error) {
	return s.exec(ctx, id, "fail job",
		`UPDATE jobs SET status = $1, outputs = '[]', error = $2, updated_at = $3 WHERE id = $4`,
		domain.JobStatusFailed, reason, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (job_id, kind, pixels_processed, bytes_in, bytes_out, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.JobID,
		usage.Kind,
		usage.PixelsProcessed,
		usage.BytesIn,
		usage.BytesOut,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) exec(ctx context.Context, id, op, query string, args ...any) (domain.Job, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func marshalOutputs(outputs []domain.JobOutput) ([]byte, error) {
	if outputs == nil {
		outputs = []domain.JobOutput{}
	}
	data, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("marshal job outputs: %w", err)
	}
	return data, nil
}
