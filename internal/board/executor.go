package board

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Guizzs26/boardsync/internal/config"
	"github.com/Guizzs26/boardsync/pkg/infra"
	"github.com/Guizzs26/boardsync/pkg/metrics"
)

// RecordResult is the outcome for one submitted record. Results are returned
// in the same order records were submitted so callers can zip inputs to
// outputs.
type RecordResult struct {
	Key         string
	ExternalID  string
	Err         error
	ViaFallback bool
}

// Result aggregates one Execute call.
type Result struct {
	Records           []RecordResult
	Succeeded         int
	Failed            int
	FallbackSucceeded int
	DryRun            bool
}

// Success reports whether every record landed.
func (r Result) Success() bool { return r.Failed == 0 }

// Executor pushes grouped operations against the board with conservative
// batching, bounded concurrency, rate-limit backoff and single-item fallback.
type Executor struct {
	client          *Client
	groups          *GroupCache
	policy          infra.RetryPolicy
	boardID         string
	batchSize       int
	maxConcurrent   int
	interBatchDelay time.Duration
	logger          *slog.Logger
}

func NewExecutor(client *Client, cfg *config.Config, logger *slog.Logger) *Executor {
	return &Executor{
		client: client,
		groups: NewGroupCache(),
		policy: infra.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   cfg.RetryMaxDelay,
			Multiplier: cfg.RetryMultiplier,
		},
		boardID:         cfg.BoardID,
		batchSize:       cfg.BoardBatchSize,
		maxConcurrent:   cfg.MaxConcurrentBatches,
		interBatchDelay: cfg.InterBatchDelay,
		logger:          logger,
	}
}

// retry runs op under the shared retry policy, counting retried classes.
func (e *Executor) retry(ctx context.Context, op func(ctx context.Context) error) error {
	classifier := func(err error) bool {
		if IsRetryable(err) {
			metrics.APIRetries.WithLabelValues(string(ClassOf(err))).Inc()
			return true
		}
		return false
	}
	return infra.Retry(ctx, e.policy, classifier, op)
}

// Execute pushes records through the given operation. The strategy is picked
// purely by record count: one record goes as a single call, a batch-sized
// set as one batched call, anything larger as concurrent batched calls under
// the in-flight cap with a delay between dispatches. Dry-run renders and
// validates everything and performs zero network calls.
func (e *Executor) Execute(ctx context.Context, op OperationType, records []Record, dryRun bool) (Result, error) {
	result := Result{Records: make([]RecordResult, len(records)), DryRun: dryRun}
	if len(records) == 0 {
		return result, nil
	}

	if dryRun {
		e.executeDryRun(op, records, &result)
		tally(&result)
		return result, nil
	}

	groupIDs, err := e.resolveGroups(ctx, op, records)
	if err != nil {
		return result, err
	}

	switch {
	case len(records) == 1:
		id, err := e.executeSingle(ctx, op, records[0], groupIDs[records[0].GroupName])
		result.Records[0] = RecordResult{Key: records[0].Key, ExternalID: id, Err: err}
	case len(records) <= e.batchSize:
		e.executeBatch(ctx, op, records, groupIDs, result.Records)
	default:
		e.executeConcurrent(ctx, op, records, groupIDs, result.Records)
	}

	tally(&result)
	e.logger.Info("Board execution finished",
		"operation", string(op),
		"records", len(records),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"via_fallback", result.FallbackSucceeded,
	)
	return result, nil
}

// executeDryRun does the full validation and templating pass without
// touching the network, logging what would be sent.
func (e *Executor) executeDryRun(op OperationType, records []Record, result *Result) {
	for i, rec := range records {
		groupID := "dry-run-group"
		sel, err := rec.selection(fmt.Sprintf("m%d", i), op, e.boardID, groupID)
		if err != nil {
			result.Records[i] = RecordResult{Key: rec.Key, Err: err}
			continue
		}
		e.logger.Info("DRY-RUN: would send", "operation", string(op), "record", rec.Key, "mutation", sel)
		result.Records[i] = RecordResult{Key: rec.Key}
	}
}

// resolveGroups ensures every distinct container referenced by a create
// operation exists, collapsing N items per group into at most one
// container-creation call.
func (e *Executor) resolveGroups(ctx context.Context, op OperationType, records []Record) (map[string]string, error) {
	groupIDs := make(map[string]string)
	if op != OpCreateItem {
		return groupIDs, nil
	}
	for _, rec := range records {
		if rec.GroupName == "" {
			continue
		}
		if _, ok := groupIDs[rec.GroupName]; ok {
			continue
		}
		id, err := e.ensureGroup(ctx, rec.GroupName)
		if err != nil {
			return nil, err
		}
		groupIDs[rec.GroupName] = id
	}
	return groupIDs, nil
}

// executeSingle pushes one record in its own call under the retry policy.
func (e *Executor) executeSingle(ctx context.Context, op OperationType, rec Record, groupID string) (string, error) {
	sel, err := rec.selection("m0", op, e.boardID, groupID)
	if err != nil {
		return "", err
	}
	query := buildMutation([]string{sel})

	var id string
	err = e.retry(ctx, func(ctx context.Context) error {
		data, execErr := e.client.Execute(ctx, query, nil)
		if execErr != nil {
			return execErr
		}
		id, execErr = entityID(data, "m0")
		return execErr
	})
	return id, err
}

// executeBatch pushes records as one aliased mutation. If the call fails for
// a cause not attributable to any single record, it degrades to single-item
// calls so one poisoned request cannot sink the whole batch.
func (e *Executor) executeBatch(ctx context.Context, op OperationType, records []Record, groupIDs map[string]string, out []RecordResult) {
	selections := make([]string, 0, len(records))
	callable := make([]int, 0, len(records)) // indexes that rendered cleanly

	for i, rec := range records {
		sel, err := rec.selection(fmt.Sprintf("m%d", i), op, e.boardID, groupIDs[rec.GroupName])
		if err != nil {
			out[i] = RecordResult{Key: rec.Key, Err: err}
			continue
		}
		selections = append(selections, sel)
		callable = append(callable, i)
	}
	if len(callable) == 0 {
		return
	}

	query := buildMutation(selections)
	var data map[string]json.RawMessage
	err := e.retry(ctx, func(ctx context.Context) error {
		var execErr error
		data, execErr = e.client.Execute(ctx, query, nil)
		return execErr
	})

	if err == nil {
		for _, i := range callable {
			id, idErr := entityID(data, fmt.Sprintf("m%d", i))
			out[i] = RecordResult{Key: records[i].Key, ExternalID: id, Err: idErr}
		}
		return
	}

	if !shouldFallback(err) {
		for _, i := range callable {
			out[i] = RecordResult{Key: records[i].Key, Err: err}
		}
		return
	}

	e.logger.Warn("Batched call failed, degrading to single-item fallback",
		"operation", string(op),
		"records", len(callable),
		"class", string(ClassOf(err)),
		"error", err,
	)

	for _, i := range callable {
		id, singleErr := e.executeSingle(ctx, op, records[i], groupIDs[records[i].GroupName])
		out[i] = RecordResult{Key: records[i].Key, ExternalID: id, Err: singleErr, ViaFallback: true}
		if singleErr == nil {
			metrics.FallbackRecords.WithLabelValues("succeeded").Inc()
		} else {
			metrics.FallbackRecords.WithLabelValues("failed").Inc()
		}
	}
}

// executeConcurrent splits records into batch-sized groups and runs them
// under the in-flight cap, pausing between dispatches to respect the remote
// rate ceiling. Each goroutine writes only its own slice segment. A
// dispatched batch always runs to completion; only undispatched batches are
// skipped on cancellation.
func (e *Executor) executeConcurrent(ctx context.Context, op OperationType, records []Record, groupIDs map[string]string, out []RecordResult) {
	g := new(errgroup.Group)
	g.SetLimit(max(e.maxConcurrent, 1))

	for start := 0; start < len(records); start += e.batchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				for i := start; i < len(records); i++ {
					out[i] = RecordResult{Key: records[i].Key, Err: ctx.Err()}
				}
				_ = g.Wait()
				return
			case <-time.After(e.interBatchDelay):
			}
		}

		end := min(start+e.batchSize, len(records))
		batch := records[start:end]
		segment := out[start:end]
		g.Go(func() error {
			e.executeBatch(context.WithoutCancel(ctx), op, batch, groupIDs, segment)
			return nil
		})
	}

	_ = g.Wait()
}

// shouldFallback reports whether a batch-level failure warrants retrying the
// records individually. Permanent classes would fail identically one by one.
func shouldFallback(err error) bool {
	switch ClassOf(err) {
	case ClassTimeout, ClassNetwork, ClassTemporaryServer, ClassRateLimit, ClassUnknown:
		return true
	}
	return false
}

func tally(result *Result) {
	for _, r := range result.Records {
		if r.Err == nil {
			result.Succeeded++
			if r.ViaFallback {
				result.FallbackSucceeded++
			}
		} else {
			result.Failed++
		}
	}
}
