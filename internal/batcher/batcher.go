// Package batcher groups pending headers into ordered, size-bounded batches
// and cascades each header's line set, so a header is never pushed without
// its current lines.
package batcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Guizzs26/boardsync/internal/models"
)

// Repository is the data access contract the batcher needs.
type Repository interface {
	FetchPendingHeaders(ctx context.Context, limit int, customer string) ([]models.OrderHeader, error)
	FetchLinesByRecord(ctx context.Context, recordUUIDs []string) (map[string][]models.OrderLine, error)
}

// Batcher selects pending work and shapes it into push-ready batches.
type Batcher struct {
	repo         Repository
	maxBatchSize int
	logger       *slog.Logger
}

func NewBatcher(repo Repository, maxBatchSize int, logger *slog.Logger) *Batcher {
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	return &Batcher{repo: repo, maxBatchSize: maxBatchSize, logger: logger}
}

// BuildBatches pulls up to limit pending headers (0 = no limit; customer ""
// = all customers), cascades their lines, and chunks them per customer into
// batches of at most maxBatchSize headers. The repository returns headers in
// deterministic order (group, customer, natural key), so a bounded pull is
// reproducible; callers needing per-customer guarantees pass the customer
// explicitly instead of relying on a global limit.
func (b *Batcher) BuildBatches(ctx context.Context, limit int, customer string) ([]models.Batch, error) {
	headers, err := b.repo.FetchPendingHeaders(ctx, limit, customer)
	if err != nil {
		return nil, fmt.Errorf("select pending headers: %w", err)
	}
	if len(headers) == 0 {
		return nil, nil
	}

	recordUUIDs := make([]string, len(headers))
	for i, h := range headers {
		recordUUIDs[i] = h.RecordUUID
	}

	lines, err := b.repo.FetchLinesByRecord(ctx, recordUUIDs)
	if err != nil {
		return nil, fmt.Errorf("cascade lines: %w", err)
	}

	batches := b.chunk(headers, lines)
	b.logger.Info("Batches built",
		"headers", len(headers),
		"batches", len(batches),
		"max_batch_size", b.maxBatchSize,
	)
	return batches, nil
}

// chunk splits the ordered header list per customer into bounded batches.
// Headers arrive pre-sorted, so customers form contiguous runs and the
// resulting batch sequence is deterministic.
func (b *Batcher) chunk(headers []models.OrderHeader, lines map[string][]models.OrderLine) []models.Batch {
	var batches []models.Batch
	var current *models.Batch

	flush := func() {
		if current != nil && len(current.Headers) > 0 {
			current.Loaded = len(current.Headers)
			batches = append(batches, *current)
		}
		current = nil
	}

	for _, h := range headers {
		if current == nil || current.CustomerName != h.CustomerName || len(current.Headers) >= b.maxBatchSize {
			flush()
			current = &models.Batch{
				BatchID:      uuid.NewString(),
				CustomerName: h.CustomerName,
				Lines:        make(map[string][]models.OrderLine),
			}
		}
		current.Headers = append(current.Headers, h)
		// A header with zero qualifying lines is still pushed headers-only.
		if ls := lines[h.RecordUUID]; len(ls) > 0 {
			current.Lines[h.RecordUUID] = ls
		}
	}
	flush()

	return batches
}
