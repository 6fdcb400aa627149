// Package engine drives one end-to-end sync run: pull pending work, batch
// it per customer, push headers then lines through the board client, write
// external ids back, and finally promote what landed.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/boardsync/internal/board"
	"github.com/Guizzs26/boardsync/internal/config"
	"github.com/Guizzs26/boardsync/internal/models"
	"github.com/Guizzs26/boardsync/internal/staging"
	"github.com/Guizzs26/boardsync/pkg/metrics"
)

// Repository is the write-back contract the engine needs.
type Repository interface {
	SetHeaderExternalID(ctx context.Context, recordUUID, itemID, groupID string) error
	PropagateParentItemID(ctx context.Context, recordUUID, itemID string) error
	SetLineExternalID(ctx context.Context, lineUUID, subitemID string) error
	MarkHeaderState(ctx context.Context, recordUUID string, state models.SyncState, syncError string) error
	MarkLineState(ctx context.Context, lineUUID string, state models.SyncState, syncError string) error
	CountPending(ctx context.Context) (int, error)
}

// BatchBuilder shapes pending work into push-ready batches.
type BatchBuilder interface {
	BuildBatches(ctx context.Context, limit int, customer string) ([]models.Batch, error)
}

// BoardExecutor pushes record sets against the external board.
type BoardExecutor interface {
	Execute(ctx context.Context, op board.OperationType, records []board.Record, dryRun bool) (board.Result, error)
}

// LifecyclePromoter finishes a run by promoting and cleaning staging.
type LifecyclePromoter interface {
	Promote(ctx context.Context) (staging.PromoteResult, error)
	Cleanup(ctx context.Context) (int, error)
	ExpireRetention(ctx context.Context, retentionDays int) (int, error)
}

// EventPublisher emits run outcome events. Optional: a nil publisher
// disables eventing without changing engine behavior.
type EventPublisher interface {
	PublishRunSummary(ctx context.Context, report models.RunReport) error
	PublishRecordFailure(ctx context.Context, kind, recordUUID, customer, reason string) error
	IsHealthy() bool
}

// RunOptions selects the scope of one sync run.
type RunOptions struct {
	DryRun   bool
	Limit    int
	Customer string
}

// Engine orchestrates the sync loop.
type Engine struct {
	repo     Repository
	batcher  BatchBuilder
	executor BoardExecutor
	promoter LifecyclePromoter
	events   EventPublisher
	cfg      *config.Config
	logger   *slog.Logger
}

func New(repo Repository, batcher BatchBuilder, executor BoardExecutor, promoter LifecyclePromoter, events EventPublisher, cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		repo:     repo,
		batcher:  batcher,
		executor: executor,
		promoter: promoter,
		events:   events,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes one full sync pass. Per-batch failures never abort the run:
// the engine accumulates counts and returns an aggregate report. Only
// configuration-class errors (bad batching query, broken promotion schema)
// propagate as run errors.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (models.RunReport, error) {
	report := models.RunReport{StartedAt: time.Now().UTC()}

	if backlog, err := e.repo.CountPending(ctx); err == nil {
		metrics.PendingBacklog.Set(float64(backlog))
	}

	batches, err := e.batcher.BuildBatches(ctx, opts.Limit, opts.Customer)
	if err != nil {
		return report, fmt.Errorf("build batches: %w", err)
	}
	if len(batches) == 0 {
		e.logger.Info("No pending work, sync run is a no-op")
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}

	report.Batches = len(batches)
	e.logger.Info("Sync run starting",
		"batches", len(batches),
		"dry_run", opts.DryRun,
		"limit", opts.Limit,
		"customer", opts.Customer,
	)

	for _, batch := range batches {
		start := time.Now()
		e.processBatch(ctx, batch, opts.DryRun, &report)
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
		metrics.BatchSize.Observe(float64(len(batch.Headers)))
	}

	if !opts.DryRun {
		promoted, err := e.promoter.Promote(ctx)
		if err != nil {
			e.logger.Error("Promotion failed, staged rows remain for the next run", "error", err)
			report.RecordFailure(fmt.Sprintf("promotion: %v", err))
		} else {
			report.Promoted = promoted.Headers + promoted.Lines
		}

		if _, err := e.promoter.Cleanup(ctx); err != nil {
			e.logger.Error("Staging cleanup failed", "error", err)
		}
		if _, err := e.promoter.ExpireRetention(ctx, e.cfg.RetentionDays); err != nil {
			e.logger.Error("Retention expiry failed", "error", err)
		}
	}

	report.FinishedAt = time.Now().UTC()
	e.publishSummary(ctx, report)

	e.logger.Info("Sync run finished",
		"headers_pushed", report.HeadersPushed,
		"headers_failed", report.HeadersFailed,
		"lines_pushed", report.LinesPushed,
		"lines_failed", report.LinesFailed,
		"promoted", report.Promoted,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, nil
}

// processBatch pushes one customer batch: headers first, then each
// successful header's lines. A header reaches SYNCED only when both it and
// every one of its lines landed, so header and line states never diverge in
// a way promotion could tear apart.
func (e *Engine) processBatch(ctx context.Context, batch models.Batch, dryRun bool, report *models.RunReport) {
	l := e.logger.With("batch_id", batch.BatchID, "customer", batch.CustomerName, "headers", batch.Loaded)

	creates, updates := e.splitHeaders(batch.Headers)

	createResults, err := e.executor.Execute(ctx, board.OpCreateItem, creates, dryRun)
	if err != nil {
		e.failWholeBatch(ctx, batch, fmt.Sprintf("batch create failed: %v", err), dryRun, report)
		l.Error("Batch aborted at header create", "error", err)
		return
	}
	updateResults, err := e.executor.Execute(ctx, board.OpUpdateItem, updates, dryRun)
	if err != nil {
		e.failWholeBatch(ctx, batch, fmt.Sprintf("batch update failed: %v", err), dryRun, report)
		l.Error("Batch aborted at header update", "error", err)
		return
	}

	outcomes := make(map[string]board.RecordResult, len(batch.Headers))
	collect(creates, createResults, outcomes)
	collect(updates, updateResults, outcomes)

	for _, header := range batch.Headers {
		e.finishHeader(ctx, header, batch.Lines[header.RecordUUID], outcomes[header.RecordUUID], dryRun, report)
	}
}

// finishHeader writes back the header outcome, pushes its lines, and settles
// the final states for the whole family.
func (e *Engine) finishHeader(ctx context.Context, header models.OrderHeader, lines []models.OrderLine, outcome board.RecordResult, dryRun bool, report *models.RunReport) {
	customer := header.CustomerName

	if outcome.Err != nil {
		e.failHeader(ctx, header, lines, outcome.Err.Error(), dryRun, report)
		return
	}

	itemID := header.ExternalItemID
	if outcome.ExternalID != "" && itemID == "" {
		itemID = outcome.ExternalID
	}

	if !dryRun {
		if outcome.ExternalID != "" && header.ExternalItemID == "" {
			if err := e.repo.SetHeaderExternalID(ctx, header.RecordUUID, outcome.ExternalID, header.ExternalGroupID); err != nil {
				e.failHeader(ctx, header, lines, fmt.Sprintf("write back item id: %v", err), dryRun, report)
				return
			}
		}
		if err := e.repo.PropagateParentItemID(ctx, header.RecordUUID, itemID); err != nil {
			e.failHeader(ctx, header, lines, fmt.Sprintf("propagate parent id: %v", err), dryRun, report)
			return
		}
	}

	lineOutcomes, pushErr := e.pushLines(ctx, itemID, lines, dryRun)
	if pushErr != nil {
		e.failHeader(ctx, header, lines, pushErr.Error(), dryRun, report)
		return
	}

	allLanded := true
	for _, line := range lines {
		lo := lineOutcomes[line.LineUUID]
		if lo.Err != nil {
			allLanded = false
			report.LinesFailed++
			report.RecordFailure(lo.Err.Error())
			metrics.RecordsProcessed.WithLabelValues("failed", "line", customer).Inc()
			if !dryRun {
				e.markLine(ctx, line.LineUUID, models.StateFailed, lo.Err.Error())
				e.publishFailure(ctx, "line", line.LineUUID, customer, lo.Err.Error())
			}
			continue
		}
		report.LinesPushed++
		metrics.RecordsProcessed.WithLabelValues("synced", "line", customer).Inc()
		if !dryRun {
			if lo.ExternalID != "" && line.ExternalSubitemID == "" {
				if err := e.repo.SetLineExternalID(ctx, line.LineUUID, lo.ExternalID); err != nil {
					e.logger.Error("Sub-item pushed but id write-back failed", "line_uuid", line.LineUUID, "error", err)
				}
			}
			e.markLine(ctx, line.LineUUID, models.StateSynced, "")
		}
	}

	if !allLanded {
		// The pair must settle together: a header whose lines did not all
		// land stays FAILED so the next run retries the family.
		report.HeadersFailed++
		metrics.RecordsProcessed.WithLabelValues("failed", "header", customer).Inc()
		if !dryRun {
			e.markHeader(ctx, header.RecordUUID, models.StateFailed, "one or more lines failed to push")
			e.publishFailure(ctx, "header", header.RecordUUID, customer, "one or more lines failed to push")
		}
		return
	}

	report.HeadersPushed++
	metrics.RecordsProcessed.WithLabelValues("synced", "header", customer).Inc()
	if !dryRun {
		e.markHeader(ctx, header.RecordUUID, models.StateSynced, "")
	}
}

// pushLines pushes one header's line set, splitting creates from updates.
// Sub-items that already carry an external id are updated, never recreated.
func (e *Engine) pushLines(ctx context.Context, parentItemID string, lines []models.OrderLine, dryRun bool) (map[string]board.RecordResult, error) {
	outcomes := make(map[string]board.RecordResult, len(lines))
	if len(lines) == 0 {
		return outcomes, nil
	}

	var creates, updates []board.Record
	for _, line := range lines {
		rec := board.Record{
			Key:          line.LineUUID,
			Title:        line.SizeCode,
			ParentItemID: parentItemID,
			ExternalID:   line.ExternalSubitemID,
			Fields:       e.lineFields(line),
		}
		if line.ExternalSubitemID == "" {
			creates = append(creates, rec)
		} else {
			updates = append(updates, rec)
		}
	}

	createResults, err := e.executor.Execute(ctx, board.OpCreateSubitem, creates, dryRun)
	if err != nil {
		return nil, fmt.Errorf("push sub-items: %w", err)
	}
	updateResults, err := e.executor.Execute(ctx, board.OpUpdateSubitem, updates, dryRun)
	if err != nil {
		return nil, fmt.Errorf("update sub-items: %w", err)
	}

	collect(creates, createResults, outcomes)
	collect(updates, updateResults, outcomes)
	return outcomes, nil
}

// splitHeaders converts headers into board records, separated by the action
// the detector assigned.
func (e *Engine) splitHeaders(headers []models.OrderHeader) (creates, updates []board.Record) {
	for _, h := range headers {
		rec := board.Record{
			Key:        h.RecordUUID,
			Title:      h.ItemTitle,
			GroupName:  h.GroupName,
			ExternalID: h.ExternalItemID,
			Fields:     e.headerFields(h),
		}
		// ActionType decides the operation, but a header that already has a
		// board id is always an update: external ids are write-once.
		if h.ActionType == models.ActionInsert && h.ExternalItemID == "" {
			creates = append(creates, rec)
		} else {
			updates = append(updates, rec)
		}
	}
	return creates, updates
}

// headerFields maps header columns onto board column ids.
func (e *Engine) headerFields(h models.OrderHeader) map[string]string {
	values := map[string]string{
		"customer_name":  h.CustomerName,
		"order_number":   h.OrderNumber,
		"style":          h.Style,
		"color":          h.Color,
		"season":         h.Season,
		"delivery_month": h.DeliveryMonth,
	}
	fields := make(map[string]string, len(e.cfg.Mapping.HeaderFieldIDs))
	for col, fieldID := range e.cfg.Mapping.HeaderFieldIDs {
		if v, ok := values[col]; ok {
			fields[fieldID] = v
		}
	}
	return fields
}

// lineFields maps line columns onto board column ids.
func (e *Engine) lineFields(l models.OrderLine) map[string]string {
	values := map[string]string{
		"size_code": l.SizeCode,
		"qty":       l.Qty.String(),
	}
	fields := make(map[string]string, len(e.cfg.Mapping.LineFieldIDs))
	for col, fieldID := range e.cfg.Mapping.LineFieldIDs {
		if v, ok := values[col]; ok {
			fields[fieldID] = v
		}
	}
	return fields
}

// failHeader settles a header and all of its lines as FAILED with the
// captured reason, leaving them eligible for the next retry pass.
func (e *Engine) failHeader(ctx context.Context, header models.OrderHeader, lines []models.OrderLine, reason string, dryRun bool, report *models.RunReport) {
	report.HeadersFailed++
	report.LinesFailed += len(lines)
	report.RecordFailure(reason)
	metrics.RecordsProcessed.WithLabelValues("failed", "header", header.CustomerName).Inc()

	if dryRun {
		return
	}
	e.markHeader(ctx, header.RecordUUID, models.StateFailed, reason)
	e.publishFailure(ctx, "header", header.RecordUUID, header.CustomerName, reason)
	for _, line := range lines {
		metrics.RecordsProcessed.WithLabelValues("failed", "line", header.CustomerName).Inc()
		e.markLine(ctx, line.LineUUID, models.StateFailed, "parent header failed: "+reason)
	}
}

// failWholeBatch settles every family in a batch as FAILED after a
// batch-level executor error.
func (e *Engine) failWholeBatch(ctx context.Context, batch models.Batch, reason string, dryRun bool, report *models.RunReport) {
	for _, header := range batch.Headers {
		e.failHeader(ctx, header, batch.Lines[header.RecordUUID], reason, dryRun, report)
	}
}

func (e *Engine) markHeader(ctx context.Context, recordUUID string, state models.SyncState, reason string) {
	if err := e.repo.MarkHeaderState(ctx, recordUUID, state, reason); err != nil {
		e.logger.Error("Failed to persist header state", "record_uuid", recordUUID, "state", state, "error", err)
	}
}

func (e *Engine) markLine(ctx context.Context, lineUUID string, state models.SyncState, reason string) {
	if err := e.repo.MarkLineState(ctx, lineUUID, state, reason); err != nil {
		e.logger.Error("Failed to persist line state", "line_uuid", lineUUID, "state", state, "error", err)
	}
}

func (e *Engine) publishFailure(ctx context.Context, kind, recordUUID, customer, reason string) {
	if e.events == nil || !e.events.IsHealthy() {
		return
	}
	if err := e.events.PublishRecordFailure(ctx, kind, recordUUID, customer, reason); err != nil {
		e.logger.Warn("Failed to publish record failure event", "record_uuid", recordUUID, "error", err)
	}
}

func (e *Engine) publishSummary(ctx context.Context, report models.RunReport) {
	if e.events == nil || !e.events.IsHealthy() {
		return
	}
	if err := e.events.PublishRunSummary(ctx, report); err != nil {
		e.logger.Warn("Failed to publish run summary event", "error", err)
	}
}

// collect zips submitted records with their results into the outcome map.
// Executor results come back in submission order.
func collect(records []board.Record, result board.Result, outcomes map[string]board.RecordResult) {
	for i, rec := range records {
		if i < len(result.Records) {
			outcomes[rec.Key] = result.Records[i]
		}
	}
}
