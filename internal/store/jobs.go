package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/mbrichman/scry/internal/scrytype"
)

const (
	defaultMaxAttempts = 5
	backoffBaseDelay   = 2 * time.Second
	backoffMaxDelay    = 2 * time.Minute
)

// JobRepo implements the atomic lease/dequeue/backoff queue described for
// asynchronous embedding generation. Dequeue selects the oldest ready row and
// claims it with an UPDATE guarded by status = 'pending': SQLite has no
// SELECT ... FOR UPDATE SKIP LOCKED, so the guarded UPDATE is the exclusion
// mechanism, and a worker whose UPDATE affects no row has lost the race.
type JobRepo struct {
	db dbExecer
}

// Enqueue inserts a pending job. id must already be assigned (the caller
// generates it, same as every other entity id in the archive).
func (r *JobRepo) Enqueue(ctx context.Context, id, kind string, payload []byte, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	now := time.Now().Unix()
	_, err := r.db.Exec(ctx,
		`INSERT INTO jobs (id, kind, payload, status, attempts, max_attempts, created_at, available_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6, $6)`,
		id, kind, string(payload), string(scrytype.JobPending), maxAttempts, now,
	)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", id, err)
	}
	return nil
}

// DequeueNext atomically claims up to one pending job of any of the given
// kinds whose available_at has passed, leasing it to owner for
// leaseDuration.
func (r *JobRepo) DequeueNext(ctx context.Context, kinds []string, leaseDuration time.Duration, owner string) (scrytype.Job, bool, error) {
	if len(kinds) == 0 {
		return scrytype.Job{}, false, nil
	}

	placeholders := make([]any, 0, len(kinds)+1)
	placeholders = append(placeholders, time.Now().Unix())
	clause := ""
	for i, k := range kinds {
		placeholders = append(placeholders, k)
		if i > 0 {
			clause += ", "
		}
		clause += fmt.Sprintf("$%d", i+2)
	}

	row := r.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT id FROM jobs
		 WHERE status = 'pending' AND available_at <= $1 AND kind IN (%s)
		 ORDER BY available_at ASC LIMIT 1`, clause), placeholders...)

	var id string
	if err := row.Scan(&id); err == sql.ErrNoRows {
		return scrytype.Job{}, false, nil
	} else if err != nil {
		return scrytype.Job{}, false, fmt.Errorf("select pending job: %w", err)
	}

	leaseExpiresAt := time.Now().Add(leaseDuration).Unix()
	res, err := r.db.Exec(ctx,
		`UPDATE jobs SET status = 'leased', lease_owner = $1, lease_expires_at = $2, attempts = attempts + 1
		 WHERE id = $3 AND status = 'pending'`,
		owner, leaseExpiresAt, id)
	if err != nil {
		return scrytype.Job{}, false, fmt.Errorf("lease job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Another worker claimed it between the select and the update.
		return scrytype.Job{}, false, nil
	}

	job, ok, err := r.getByID(ctx, id)
	if err != nil || !ok {
		return scrytype.Job{}, false, err
	}
	return job, true, nil
}

// Heartbeat extends a leased job's expiry, proving the owning worker is
// still alive.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID, owner string, leaseDuration time.Duration) error {
	leaseExpiresAt := time.Now().Add(leaseDuration).Unix()
	_, err := r.db.Exec(ctx,
		`UPDATE jobs SET lease_expires_at = $1 WHERE id = $2 AND lease_owner = $3 AND status = 'leased'`,
		leaseExpiresAt, jobID, owner)
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", jobID, err)
	}
	return nil
}

// MarkCompleted marks a leased job done.
func (r *JobRepo) MarkCompleted(ctx context.Context, jobID string) error {
	_, err := r.db.Exec(ctx, `UPDATE jobs SET status = 'completed' WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

// MarkFailed records the error; if requeueBackoff is true and attempts
// remain, the job returns to pending after an exponential-backoff delay.
// Otherwise it's marked permanently failed.
func (r *JobRepo) MarkFailed(ctx context.Context, jobID, errMsg string, requeueBackoff bool) error {
	job, ok, err := r.getByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if requeueBackoff && job.Attempts < job.MaxAttempts {
		availableAt := time.Now().Add(BackoffDelay(job.Attempts)).Unix()
		_, err := r.db.Exec(ctx,
			`UPDATE jobs SET status = 'pending', last_error = $1, available_at = $2, lease_owner = '', lease_expires_at = NULL
			 WHERE id = $3`,
			errMsg, availableAt, jobID)
		if err != nil {
			return fmt.Errorf("requeue job %s: %w", jobID, err)
		}
		return nil
	}

	_, err = r.db.Exec(ctx,
		`UPDATE jobs SET status = 'failed', last_error = $1 WHERE id = $2`, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return nil
}

// BackoffDelay computes the exponential-backoff-with-jitter wait before
// retry number attempts+1: base * 2^attempts * (1 + rand*0.2), capped.
func BackoffDelay(attempts int) time.Duration {
	delay := float64(backoffBaseDelay) * math.Pow(2, float64(attempts))
	wait := time.Duration(delay * (1 + rand.Float64()*0.2))
	if wait > backoffMaxDelay {
		wait = backoffMaxDelay
	}
	return wait
}

// GetPendingJobs lists pending jobs available now, oldest first.
func (r *JobRepo) GetPendingJobs(ctx context.Context, limit int) ([]scrytype.Job, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, kind, payload, status, attempts, max_attempts, lease_owner, lease_expires_at, last_error, created_at, available_at
		 FROM jobs WHERE status = 'pending' AND available_at <= $1 ORDER BY available_at ASC LIMIT $2`,
		time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var out []scrytype.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// QueueStats summarizes job counts by status.
type QueueStats struct {
	Pending   int
	Leased    int
	Completed int
	Failed    int
}

// GetQueueStats returns job counts grouped by status.
func (r *JobRepo) GetQueueStats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("group jobs by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		switch scrytype.JobStatus(status) {
		case scrytype.JobPending:
			stats.Pending = count
		case scrytype.JobLeased:
			stats.Leased = count
		case scrytype.JobCompleted:
			stats.Completed = count
		case scrytype.JobFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// ReclaimExpiredLeases returns leased jobs whose lease_expires_at has
// passed back to pending, so a crashed worker's jobs aren't stuck forever.
// Returns the number of jobs reclaimed.
func (r *JobRepo) ReclaimExpiredLeases(ctx context.Context) (int, error) {
	res, err := r.db.Exec(ctx,
		`UPDATE jobs SET status = 'pending', lease_owner = '', lease_expires_at = NULL
		 WHERE status = 'leased' AND lease_expires_at IS NOT NULL AND lease_expires_at < $1`,
		time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *JobRepo) getByID(ctx context.Context, id string) (scrytype.Job, bool, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, kind, payload, status, attempts, max_attempts, lease_owner, lease_expires_at, last_error, created_at, available_at
		 FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return scrytype.Job{}, false, nil
	}
	if err != nil {
		return scrytype.Job{}, false, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, true, nil
}

func scanJob(row rowScanner) (scrytype.Job, error) {
	var j scrytype.Job
	var status, payload string
	var leaseExpiresAt sql.NullInt64
	var createdAt, availableAt int64
	err := row.Scan(&j.ID, &j.Kind, &payload, &status, &j.Attempts, &j.MaxAttempts,
		&j.LeaseOwner, &leaseExpiresAt, &j.LastError, &createdAt, &availableAt)
	if err != nil {
		return j, err
	}
	j.Status = scrytype.JobStatus(status)
	j.Payload = []byte(payload)
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	j.AvailableAt = time.Unix(availableAt, 0).UTC()
	if leaseExpiresAt.Valid {
		t := time.Unix(leaseExpiresAt.Int64, 0).UTC()
		j.LeaseExpiresAt = &t
	}
	return j, nil
}
