package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/auctionhouse-backend/internal/auctions"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
)

const (
	FinalizeAuctionsJobName = "finalize_auctions"
	defaultMaxPasses        = 5
)

type auctionFinalizer interface {
	Run(ctx context.Context) (auctions.RunSummary, error)
}

type FinalizeAuctionsJobParams struct {
	Finalizer auctionFinalizer
	Logger    *logger.Logger
	// BatchSize matches the finalizer's batch; a full batch triggers another
	// pass in the same cycle, up to MaxPasses.
	BatchSize int
	MaxPasses int
}

// FinalizeAuctionsJob settles ended auctions into orders or no-sale results.
type FinalizeAuctionsJob struct {
	finalizer auctionFinalizer
	logg      *logger.Logger
	batchSize int
	maxPasses int
}

func NewFinalizeAuctionsJob(params FinalizeAuctionsJobParams) (*FinalizeAuctionsJob, error) {
	if params.Finalizer == nil {
		return nil, fmt.Errorf("auction finalizer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	maxPasses := params.MaxPasses
	if maxPasses <= 0 {
		maxPasses = defaultMaxPasses
	}
	return &FinalizeAuctionsJob{
		finalizer: params.Finalizer,
		logg:      params.Logger,
		batchSize: params.BatchSize,
		maxPasses: maxPasses,
	}, nil
}

func (j *FinalizeAuctionsJob) Name() string { return FinalizeAuctionsJobName }

func (j *FinalizeAuctionsJob) Run(ctx context.Context) error {
	for pass := 1; pass <= j.maxPasses; pass++ {
		summary, err := j.finalizer.Run(ctx)
		if err != nil {
			return fmt.Errorf("finalizer pass %d: %w", pass, err)
		}
		handled := summary.Finalized + summary.NoSale + summary.AlreadyFinalized + summary.Skipped
		if j.batchSize <= 0 || handled < j.batchSize {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		j.logg.Info(j.logg.WithField(ctx, "pass", pass), "finalizer batch full, running another pass")
	}
	return nil
}
