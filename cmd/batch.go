package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"sort"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/pipeline"
	"github.com/sells-group/lakeflow/internal/reader"
	"github.com/sells-group/lakeflow/internal/store"
)

var (
	batchDir         string
	batchProcessDate string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run every contract in a directory",
	Long:  "Runs all contract pipelines concurrently. Each contract targets its own table, so per-table merge serialization holds across the batch.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dir := batchDir
		if dir == "" {
			dir = cfg.Contracts.Dir
		}
		paths, err := contractPaths(dir)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			zap.L().Info("batch: no contracts found", zap.String("dir", dir))
			return nil
		}

		processDate, err := parseProcessDate(batchProcessDate)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		return processContracts(ctx, st, paths, processDate)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchDir, "dir", "", "contract directory (default from config)")
	batchCmd.Flags().StringVar(&batchProcessDate, "process-date", "", "effective date for all merge passes (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(batchCmd)
}

// contractPaths lists contract yaml files in the directory, sorted for a
// stable run order.
func contractPaths(dir string) ([]string, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matched, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, eris.Wrapf(err, "batch: glob %s", dir)
		}
		paths = append(paths, matched...)
	}
	sort.Strings(paths)
	return paths, nil
}

// processContracts runs the contracts concurrently with a bounded group and
// a rate limiter on pipeline starts. Individual contract failures do not
// abort the batch.
func processContracts(ctx context.Context, st store.TableStore, paths []string, processDate time.Time) error {
	zap.L().Info("batch: starting",
		zap.Int("contracts", len(paths)),
		zap.Int("concurrency", cfg.Batch.MaxConcurrentContracts),
	)

	limiter := rate.NewLimiter(rate.Limit(cfg.Batch.StartsPerSecond), 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Batch.MaxConcurrentContracts)

	var succeeded, failed atomic.Int64

	for _, path := range paths {
		g.Go(func() error {
			log := zap.L().With(zap.String("contract", path))

			if err := limiter.Wait(gctx); err != nil {
				return err
			}

			if err := runContract(gctx, st, path, processDate); err != nil {
				failed.Add(1)
				log.Error("batch: contract failed", zap.Error(err))
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch: processing")
	}

	zap.L().Info("batch: complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	if failed.Load() > 0 {
		return eris.Errorf("batch: %d of %d contracts failed", failed.Load(), len(paths))
	}
	return nil
}

func runContract(ctx context.Context, st store.TableStore, path string, processDate time.Time) error {
	c, err := loadContract(path)
	if err != nil {
		return err
	}
	return runPipeline(ctx, st, c, processDate)
}

func runPipeline(ctx context.Context, st store.TableStore, c *contract.Contract, processDate time.Time) error {
	readerOpts, err := readerOptions(c)
	if err != nil {
		return err
	}
	rd, err := reader.New(c, readerOpts)
	if err != nil {
		return err
	}

	p, err := pipeline.New(c, st, rd, pipeline.Options{
		ProcessDate:      processDate,
		PartitionBuckets: cfg.Merge.PartitionBuckets,
	})
	if err != nil {
		return err
	}

	_, err = p.Run(ctx)
	return err
}
