package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/dirsync/internal/job"
)

// Publisher announces a runnable job on the message broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Message is the broker payload for one runnable job
type Message struct {
	JobID string `json:"job_id"`
	Tag   string `json:"tag"`
}

const jobColumns = `job_id, tag, kind, payload, status, retry_budget, exceptions, messages, created_at, updated_at`

// jobRow is the jobs table row
type jobRow struct {
	ID          string    `db:"job_id"`
	Tag         string    `db:"tag"`
	Kind        string    `db:"kind"`
	Payload     []byte    `db:"payload"`
	Status      string    `db:"status"`
	RetryBudget int       `db:"retry_budget"`
	Exceptions  []byte    `db:"exceptions"`
	Messages    []byte    `db:"messages"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Postgres persists jobs in the jobs table and announces cast jobs on
// RabbitMQ. Jobs are rebuilt through the registry on every load.
type Postgres struct {
	db        *sqlx.DB
	registry  *job.Registry
	publisher Publisher
	observer  Observer
	logger    *slog.Logger
}

var _ job.Executor = (*Postgres)(nil)

// NewPostgres creates a new Postgres executor. publisher may be nil, in
// which case cast jobs are only found by Select.
func NewPostgres(db *sqlx.DB, registry *job.Registry, publisher Publisher, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:        db,
		registry:  registry,
		publisher: publisher,
		logger:    logger,
	}
}

// OnCall registers an observer for every invocation
func (p *Postgres) OnCall(obs Observer) {
	p.observer = obs
}

// Cast saves j and publishes its id
func (p *Postgres) Cast(ctx context.Context, j *job.Job) error {
	if err := p.Save(ctx, j); err != nil {
		return err
	}
	if p.publisher == nil {
		return nil
	}

	body, err := json.Marshal(Message{JobID: j.ID(), Tag: j.Tag()})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := p.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", j.ID(), err)
	}

	p.logger.Debug("Job cast",
		slog.String("job_id", j.ID()),
		slog.String("tag", j.Tag()),
		slog.String("kind", j.Kind()),
	)
	return nil
}

// Save inserts j or overwrites its mutable columns
func (p *Postgres) Save(ctx context.Context, j *job.Job) error {
	row, err := toRow(j)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			status = EXCLUDED.status,
			retry_budget = EXCLUDED.retry_budget,
			exceptions = EXCLUDED.exceptions,
			messages = EXCLUDED.messages,
			updated_at = EXCLUDED.updated_at
	`

	_, err = p.db.ExecContext(ctx, query,
		row.ID,
		row.Tag,
		row.Kind,
		string(row.Payload),
		row.Status,
		row.RetryBudget,
		string(row.Exceptions),
		string(row.Messages),
		row.CreatedAt,
		row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", row.ID, err)
	}

	return nil
}

// Select claims the oldest idle job of tag, skipping rows locked by other
// workers. Rows that cannot be restored are failed on the way and skipped.
func (p *Postgres) Select(ctx context.Context, tag string) (*job.Job, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE tag = $1 AND status = $2
		ORDER BY created_at, job_id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	failed := 0
	for {
		var row jobRow
		err = tx.GetContext(ctx, &row, query, tag, string(job.StatusIdle))
		if errors.Is(err, sql.ErrNoRows) {
			if failed == 0 {
				return nil, nil
			}
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("failed to commit failed jobs: %w", err)
			}
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to select job: %w", err)
		}

		j, err := p.restore(row)
		if errors.Is(err, ErrUnrestorable) {
			if _, err := p.fail(ctx, tx, row.ID, err); err != nil {
				return nil, err
			}
			failed++
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := j.Transition(job.StatusSelected); err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = $1, updated_at = $2 WHERE job_id = $3`,
			string(j.Status()), j.UpdatedAt(), j.ID(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to mark job selected: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit selection: %w", err)
		}

		return j, nil
	}
}

// Claim moves the job with id from idle to selected using optimistic locking.
// It returns ErrJobAlreadyClaimed when the job is not idle anymore.
func (p *Postgres) Claim(ctx context.Context, id string) (*job.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND status = $3
		RETURNING ` + jobColumns

	var row jobRow
	err := p.db.GetContext(ctx, &row, query, string(job.StatusSelected), id, string(job.StatusIdle))
	if errors.Is(err, sql.ErrNoRows) {
		p.logger.Warn("Failed to claim job - already claimed or not found",
			slog.String("job_id", id),
		)
		return nil, ErrJobAlreadyClaimed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return p.restore(row)
}

// Call runs j once, persists the result and casts it again when rescheduled.
// The result is persisted even when ctx expired during execution.
func (p *Postgres) Call(ctx context.Context, j *job.Job) error {
	start := time.Now()
	if err := job.Run(ctx, j, p.logger); err != nil {
		return err
	}
	if p.observer != nil {
		p.observer(j, time.Since(start))
	}

	saveCtx := context.WithoutCancel(ctx)
	if j.Status() == job.StatusRescheduled {
		if err := j.Requeue(); err != nil {
			return err
		}
		return p.Cast(saveCtx, j)
	}
	return p.Save(saveCtx, j)
}

// MarkFailed fails the job with id without running it, appending cause to
// its exceptions. It serves jobs that can no longer be restored.
func (p *Postgres) MarkFailed(ctx context.Context, id string, cause error) error {
	rows, err := p.fail(ctx, p.db, id, cause)
	if err != nil {
		return err
	}
	if rows == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// fail sets the row to FAILED and appends cause to its exceptions
func (p *Postgres) fail(ctx context.Context, exec sqlx.ExecerContext, id string, cause error) (int64, error) {
	exceptions, err := json.Marshal([]job.Exception{job.NewException(cause)})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal exception: %w", err)
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    exceptions = exceptions || $2::jsonb,
		    updated_at = NOW()
		WHERE job_id = $3
	`

	result, err := exec.ExecContext(ctx, query, string(job.StatusFailed), string(exceptions), id)
	if err != nil {
		return 0, fmt.Errorf("failed to mark job %s failed: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		p.logger.Warn("Job marked failed without running",
			slog.String("job_id", id),
			slog.String("error", cause.Error()),
		)
	}
	return rows, nil
}

// CountJobs counts the jobs of tag in any of statuses
func (p *Postgres) CountJobs(ctx context.Context, tag string, statuses ...job.Status) (int, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE tag = $1`
	args := []interface{}{tag}

	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` AND status = ANY($2)`
		args = append(args, pq.Array(names))
	}

	var count int
	if err := p.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// Get loads the job with id
func (p *Postgres) Get(ctx context.Context, id string) (*job.Job, error) {
	var row jobRow
	err := p.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return p.restore(row)
}

// List returns one page of jobs matching filter, newest first, plus one extra
// job when more pages follow
func (p *Postgres) List(ctx context.Context, filter Filter) ([]*job.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Tag != "" {
		query += fmt.Sprintf(" AND tag = $%d", argIdx)
		args = append(args, filter.Tag)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(rows))
	for _, row := range rows {
		j, err := p.restore(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (p *Postgres) restore(row jobRow) (*job.Job, error) {
	rec, err := row.record()
	if err != nil {
		return nil, err
	}
	j, err := p.registry.Restore(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnrestorable, row.ID, err)
	}
	return j, nil
}

func toRow(j *job.Job) (jobRow, error) {
	rec, err := j.Record()
	if err != nil {
		return jobRow{}, err
	}

	exceptions, err := json.Marshal(rec.Exceptions)
	if err != nil {
		return jobRow{}, fmt.Errorf("failed to marshal exceptions: %w", err)
	}
	messages, err := json.Marshal(rec.Messages)
	if err != nil {
		return jobRow{}, fmt.Errorf("failed to marshal messages: %w", err)
	}

	return jobRow{
		ID:          rec.ID,
		Tag:         rec.Tag,
		Kind:        rec.Kind,
		Payload:     rec.Payload,
		Status:      string(rec.Status),
		RetryBudget: rec.RetryBudget,
		Exceptions:  exceptions,
		Messages:    messages,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func (r jobRow) record() (*job.Record, error) {
	status, err := job.ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}

	rec := &job.Record{
		ID:          r.ID,
		Tag:         r.Tag,
		Kind:        r.Kind,
		Payload:     r.Payload,
		Status:      status,
		RetryBudget: r.RetryBudget,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	if len(r.Exceptions) > 0 {
		if err := json.Unmarshal(r.Exceptions, &rec.Exceptions); err != nil {
			return nil, fmt.Errorf("invalid exceptions of job %s: %w", r.ID, err)
		}
	}
	if len(r.Messages) > 0 {
		if err := json.Unmarshal(r.Messages, &rec.Messages); err != nil {
			return nil, fmt.Errorf("invalid messages of job %s: %w", r.ID, err)
		}
	}

	return rec, nil
}
