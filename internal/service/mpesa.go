package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/upeohq/staffdesk/internal/domain"
	"github.com/upeohq/staffdesk/internal/domain/mpesa"
	"github.com/upeohq/staffdesk/internal/port/cache"
)

// TransactionAPI is the slice of the M-Pesa client the checker needs.
type TransactionAPI interface {
	QueryStatus(ctx context.Context, transactionID string) (mpesa.Status, error)
}

// StatusChecker resolves transaction statuses in bulk. Lookups run
// concurrently but never more than maxConcurrent at a time, and fresh
// results are cached briefly so repeated checks of the same receipt do not
// hammer the API.
type StatusChecker struct {
	api      TransactionAPI
	cache    cache.Cache
	sem      *semaphore.Weighted
	cacheTTL time.Duration
	log      *slog.Logger
}

// NewStatusChecker creates a bulk status checker.
func NewStatusChecker(api TransactionAPI, c cache.Cache, maxConcurrent int, cacheTTL time.Duration, log *slog.Logger) *StatusChecker {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &StatusChecker{
		api:      api,
		cache:    c,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		cacheTTL: cacheTTL,
		log:      log,
	}
}

// CheckBulk resolves every transaction id, in input order. A failed lookup
// yields a ResultUnknown entry instead of aborting the batch.
func (c *StatusChecker) CheckBulk(ctx context.Context, ids []string) ([]mpesa.Status, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no transaction ids given", domain.ErrValidation)
	}

	results := make([]mpesa.Status, len(ids))
	var wg sync.WaitGroup

	for i, id := range ids {
		if st, ok := c.cached(ctx, id); ok {
			results[i] = st
			continue
		}

		if err := c.sem.Acquire(ctx, 1); err != nil {
			results[i] = unknownStatus(id, err)
			continue
		}

		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer c.sem.Release(1)

			st, err := c.api.QueryStatus(ctx, id)
			if err != nil {
				c.log.Warn("transaction status lookup failed", "transaction_id", id, "error", err)
				results[i] = unknownStatus(id, err)
				return
			}
			results[i] = st
			c.store(ctx, st)
		}(i, id)
	}

	wg.Wait()
	return results, nil
}

func (c *StatusChecker) cached(ctx context.Context, id string) (mpesa.Status, bool) {
	if c.cache == nil {
		return mpesa.Status{}, false
	}
	data, ok, err := c.cache.Get(ctx, cacheKey(id))
	if err != nil || !ok {
		return mpesa.Status{}, false
	}
	var st mpesa.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return mpesa.Status{}, false
	}
	return st, true
}

func (c *StatusChecker) store(ctx context.Context, st mpesa.Status) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return
	}
	// Pending transactions change; only cache settled results.
	if st.Result == mpesa.ResultPending || st.Result == mpesa.ResultUnknown {
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cacheKey(st.TransactionID), data, c.cacheTTL); err != nil {
		c.log.Warn("cache transaction status failed", "transaction_id", st.TransactionID, "error", err)
	}
}

func cacheKey(id string) string {
	return "mpesa:txn:" + id
}

func unknownStatus(id string, err error) mpesa.Status {
	return mpesa.Status{
		TransactionID: id,
		Result:        mpesa.ResultUnknown,
		ResultDesc:    err.Error(),
		CheckedAt:     time.Now().UTC(),
	}
}
