package weather

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// BulkResult is the outcome for a single owner of a bulk request. Exactly one
// of Report and Err is meaningful.
type BulkResult struct {
	OwnerID string  `json:"ownerId"`
	Report  *Report `json:"report,omitempty"`
	Err     error   `json:"-"`
	Error   string  `json:"error,omitempty"`
}

// BulkGetWeather runs one independent pipeline per owner, at most
// Options.BulkConcurrency at a time. Requests
// larger than the configured batch size are rejected. A failing owner never
// cancels or affects its siblings; its error is reported in its own result.
// Results keep the order of ownerIDs.
func (s *Service) BulkGetWeather(ctx context.Context, ownerIDs []string, crop string) ([]BulkResult, error) {
	if len(ownerIDs) > s.opts.MaxBatch {
		return nil, fmt.Errorf("%w: %d owners requested, max %d", ErrBatchTooLarge, len(ownerIDs), s.opts.MaxBatch)
	}

	results := make([]BulkResult, len(ownerIDs))

	// Plain group: no shared cancellation between owners.
	var g errgroup.Group
	g.SetLimit(s.opts.BulkConcurrency)
	for i, id := range ownerIDs {
		g.Go(func() error {
			results[i] = s.bulkOne(ctx, id, crop)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	slog.Info("bulk weather completed", "owners", len(ownerIDs), "failed", failed)
	return results, nil
}

func (s *Service) bulkOne(ctx context.Context, ownerID, crop string) (res BulkResult) {
	res.OwnerID = ownerID
	defer func() {
		if r := recover(); r != nil {
			res.Report = nil
			res.Err = fmt.Errorf("owner %s: panic: %v", ownerID, r)
			res.Error = res.Err.Error()
		}
	}()

	report, err := s.GetWeatherForOwner(ctx, ownerID, crop)
	if err != nil {
		slog.Warn("bulk weather failed for owner", "owner", ownerID, "error", err)
		res.Err = err
		res.Error = err.Error()
		return res
	}
	res.Report = &report
	return res
}
