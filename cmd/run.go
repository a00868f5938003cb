package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lakeflow/internal/pipeline"
	"github.com/sells-group/lakeflow/internal/reader"
)

var runProcessDate string

var runCmd = &cobra.Command{
	Use:   "run <contract.yaml>",
	Short: "Run a single contract pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := loadContract(args[0])
		if err != nil {
			return err
		}

		processDate, err := parseProcessDate(runProcessDate)
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

		run, runErr := p.Run(ctx)
		if run != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(run); encErr != nil {
				zap.L().Warn("run: encode result", zap.Error(encErr))
			}
		}
		return runErr
	},
}

// parseProcessDate parses the --process-date flag; empty means today.
func parseProcessDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "run: parse process date %q", s)
	}
	return t, nil
}

func init() {
	runCmd.Flags().StringVar(&runProcessDate, "process-date", "", "effective date for the merge pass (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(runCmd)
}
