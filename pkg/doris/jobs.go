package doris

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/datalith/doris-target/pkg/errors"
	"github.com/datalith/doris-target/pkg/logger"
	"github.com/datalith/doris-target/pkg/schema"
)

// JobState is the observed state of an asynchronous server-side DDL job
// (ALTER TABLE, CREATE INDEX, BUILD INDEX).
type JobState int

const (
	// JobPending means the job is still running
	JobPending JobState = iota
	// JobFinished means the job completed successfully
	JobFinished
	// JobCancelled means the server cancelled or failed the job
	JobCancelled
	// JobTimedOut means the wait deadline elapsed with the job unfinished
	JobTimedOut
)

// String implements fmt.Stringer
func (s JobState) String() string {
	switch s {
	case JobPending:
		return "PENDING"
	case JobFinished:
		return "FINISHED"
	case JobCancelled:
		return "CANCELLED"
	case JobTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// PollFunc observes the current job state without blocking. The reason is
// only meaningful for JobCancelled.
type PollFunc func(ctx context.Context) (state JobState, reason string, err error)

// jobWaiter drives a PollFunc through the {PENDING, FINISHED, CANCELLED,
// TIMED_OUT} state machine on a cooperative sleep/poll cycle. Poll errors
// are logged and treated as still pending; the timeout bounds the whole
// wait.
type jobWaiter struct {
	interval time.Duration
	timeout  time.Duration
}

// wait polls until a terminal state or the timeout. The returned reason is
// set for JobCancelled.
func (w jobWaiter) wait(ctx context.Context, poll PollFunc) (JobState, string, error) {
	deadline := time.Now().Add(w.timeout)

	for time.Now().Before(deadline) {
		state, reason, err := poll(ctx)
		if err != nil {
			logger.Debug("job status poll failed", zap.Error(err))
		} else if state != JobPending {
			return state, reason, nil
		}

		timer := time.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return JobTimedOut, "", ctx.Err()
		case <-timer.C:
		}
	}

	return JobTimedOut, "", nil
}

// WaitSchemaChange waits for the most recent ALTER TABLE job on the table to
// complete. Returns true on success, false on timeout (the caller decides
// whether that is fatal). A cancelled job is a fatal schema error carrying
// the server-reported reason.
func WaitSchemaChange(ctx context.Context, exec Executor, key schema.TableKey, timeout time.Duration) (bool, error) {
	stmt := fmt.Sprintf(
		"SHOW ALTER TABLE COLUMN FROM `%s` WHERE TableName = '%s' ORDER BY CreateTime DESC LIMIT 1",
		key.Database, key.Table)

	poll := func(ctx context.Context) (JobState, string, error) {
		rows, err := exec.Query(ctx, stmt)
		if err != nil {
			return JobPending, "", err
		}
		if len(rows) == 0 {
			// No ongoing ALTER jobs
			return JobFinished, "", nil
		}
		switch stringField(rows[0], "State") {
		case "FINISHED", "":
			return JobFinished, "", nil
		case "CANCELLED":
			return JobCancelled, stringField(rows[0], "Msg"), nil
		default:
			return JobPending, "", nil
		}
	}

	w := jobWaiter{interval: time.Second, timeout: timeout}
	state, reason, err := w.wait(ctx, poll)
	if err != nil {
		return false, err
	}

	switch state {
	case JobFinished:
		return true, nil
	case JobCancelled:
		return false, errors.NewSchemaError(key.Table, "",
			"schema change on table %s was cancelled: %s", key.Table, reason)
	default:
		logger.Warn("timeout waiting for schema change",
			zap.String("table", key.Table),
			zap.Duration("timeout", timeout))
		return false, nil
	}
}

// WaitIndexBuild waits for the BUILD INDEX job of the named index. An index
// absent from the job list is treated as already complete. Returns true on
// success, false on timeout; a cancelled or failed build is a fatal schema
// error carrying the server-reported reason.
func WaitIndexBuild(ctx context.Context, exec Executor, key schema.TableKey, indexName string, timeout time.Duration) (bool, error) {
	stmt := fmt.Sprintf(
		"SHOW BUILD INDEX FROM `%s` WHERE TableName = '%s' ORDER BY CreateTime DESC LIMIT 5",
		key.Database, key.Table)

	poll := func(ctx context.Context) (JobState, string, error) {
		rows, err := exec.Query(ctx, stmt)
		if err != nil {
			return JobPending, "", err
		}
		if len(rows) == 0 {
			// No build jobs found; the build may have completed quickly
			return JobFinished, "", nil
		}
		for _, row := range rows {
			// Exact match so idx_emb does not match idx_emb_v2
			if strings.TrimSpace(stringField(row, "IndexName")) != indexName {
				continue
			}
			switch stringField(row, "State") {
			case "FINISHED", "":
				return JobFinished, "", nil
			case "CANCELLED", "FAILED":
				return JobCancelled, stringField(row, "Msg"), nil
			default:
				return JobPending, "", nil
			}
		}
		// Our index is not in the job list; assume complete
		return JobFinished, "", nil
	}

	w := jobWaiter{interval: 2 * time.Second, timeout: timeout}
	state, reason, err := w.wait(ctx, poll)
	if err != nil {
		return false, err
	}

	switch state {
	case JobFinished:
		return true, nil
	case JobCancelled:
		return false, errors.NewSchemaError(key.Table, "",
			"index build %s failed: %s", indexName, reason)
	default:
		logger.Warn("timeout waiting for index build",
			zap.String("index", indexName),
			zap.String("table", key.Table),
			zap.Duration("timeout", timeout))
		return false, nil
	}
}
