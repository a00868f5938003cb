// Package pipeline sequences the stages of one contract run: read, cleanse,
// validate, dedupe, hash, lineage, write. Each stage is tracked as a phase on
// the run record.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/dedup"
	"github.com/sells-group/lakeflow/internal/hashing"
	"github.com/sells-group/lakeflow/internal/lineage"
	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/quality"
	"github.com/sells-group/lakeflow/internal/reader"
	"github.com/sells-group/lakeflow/internal/store"
	"github.com/sells-group/lakeflow/internal/writer"
)

// Pipeline executes one contract end to end.
type Pipeline struct {
	contract    *contract.Contract
	store       store.TableStore
	reader      reader.Reader
	quality     *quality.Engine
	writer      writer.Writer
	processDate time.Time
	buckets     int
}

// Options carries environment-level pipeline settings.
type Options struct {
	ProcessDate      time.Time // zero means today
	PartitionBuckets int       // fallback when the contract does not set one
}

// New wires the stages for a contract. Rule and strategy names were already
// validated at contract load; binding them here fails only on programmer
// error.
func New(c *contract.Contract, st store.TableStore, rd reader.Reader, opts Options) (*Pipeline, error) {
	qe, err := quality.NewEngine(c)
	if err != nil {
		return nil, err
	}
	w, err := writer.New(c, st, opts.ProcessDate)
	if err != nil {
		return nil, err
	}

	buckets := c.Write.PartitionBuckets
	if buckets <= 0 {
		buckets = opts.PartitionBuckets
	}

	return &Pipeline{
		contract:    c,
		store:       st,
		reader:      rd,
		quality:     qe,
		writer:      w,
		processDate: opts.ProcessDate,
		buckets:     buckets,
	}, nil
}

// Run executes the pipeline and returns the finalized run record. The run is
// persisted even on failure so the run log tells the whole story.
func (p *Pipeline) Run(ctx context.Context) (*model.Run, error) {
	c := p.contract
	log := zap.L().With(
		zap.String("contract", c.Name),
		zap.String("table", c.TargetTable()),
		zap.String("strategy", string(c.Write.Strategy)),
	)
	log.Info("pipeline: starting run")

	run, err := p.store.CreateRun(ctx, c.Name, c.TargetTable(), string(c.Write.Strategy))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
		log.Warn("pipeline: failed to update status", zap.Error(err))
	}

	stats := model.NewPipelineStats()
	runErr := p.execute(ctx, run, stats, log)
	stats.Finalize()

	status := model.RunStatusComplete
	errMsg := ""
	if runErr != nil {
		status = model.RunStatusFailed
		errMsg = runErr.Error()
	}
	run.Status = status
	run.Stats = stats
	run.Error = errMsg
	if saveErr := p.store.CompleteRun(ctx, run.ID, stats, errMsg); saveErr != nil {
		log.Warn("pipeline: failed to save run result", zap.Error(saveErr))
	}

	if runErr != nil {
		log.Error("pipeline: run failed", zap.String("run_id", run.ID), zap.Error(runErr))
		return run, runErr
	}
	log.Info("pipeline: run complete",
		zap.String("run_id", run.ID),
		zap.Int("rows_read", stats.RowsRead),
		zap.Int("merged_rows", stats.MergedRows),
	)
	return run, nil
}

// trackPhase runs one stage with phase bookkeeping on the run log.
func (p *Pipeline) trackPhase(ctx context.Context, runID, name string, log *zap.Logger, fn func() (*model.PhaseResult, error)) error {
	phase, phaseErr := p.store.CreatePhase(ctx, runID, name)
	if phaseErr != nil {
		log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
	}

	start := time.Now()
	result, fnErr := fn()
	duration := time.Since(start).Milliseconds()

	if result == nil {
		result = &model.PhaseResult{}
	}
	result.Name = name
	result.Duration = duration

	if fnErr != nil {
		result.Status = model.PhaseStatusFailed
		result.Error = fnErr.Error()
		log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration),
			zap.Error(fnErr),
		)
	} else {
		if result.Status == "" {
			result.Status = model.PhaseStatusSuccess
		}
		log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.String("status", string(result.Status)),
			zap.Int64("duration_ms", duration),
		)
	}

	if phase != nil {
		if completeErr := p.store.CompletePhase(ctx, phase.ID, result); completeErr != nil {
			log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(completeErr))
		}
	}
	return fnErr
}

func (p *Pipeline) execute(ctx context.Context, run *model.Run, stats *model.PipelineStats, log *zap.Logger) error {
	c := p.contract

	var batch *model.Batch
	if err := p.trackPhase(ctx, run.ID, "read", log, func() (*model.PhaseResult, error) {
		b, readErr := p.reader.Read(ctx)
		if readErr != nil {
			return nil, readErr
		}
		batch = b
		stats.RowsRead = b.Len()
		return &model.PhaseResult{RowsOut: b.Len()}, nil
	}); err != nil {
		return err
	}

	if err := p.trackPhase(ctx, run.ID, "cleanse", log, func() (*model.PhaseResult, error) {
		if cleanseErr := p.quality.Cleanse(batch); cleanseErr != nil {
			return nil, cleanseErr
		}
		return &model.PhaseResult{RowsIn: batch.Len(), RowsOut: batch.Len()}, nil
	}); err != nil {
		return err
	}

	if err := p.trackPhase(ctx, run.ID, "validate", log, func() (*model.PhaseResult, error) {
		in := batch.Len()
		summary, valErr := p.quality.Validate(batch)
		if valErr != nil {
			return nil, valErr
		}
		stats.ViolationRows = summary.FailedRows
		stats.RejectedRows = summary.RejectedRows
		return &model.PhaseResult{RowsIn: in, RowsOut: batch.Len()}, nil
	}); err != nil {
		return err
	}

	if err := p.trackPhase(ctx, run.ID, "dedupe", log, func() (*model.PhaseResult, error) {
		in := batch.Len()
		keys := c.NaturalKeyColumns()
		if len(keys) == 0 {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped, RowsIn: in, RowsOut: in}, nil
		}
		dropped, dedupeErr := dedup.Deduplicate(batch, keys)
		if dedupeErr != nil {
			return nil, dedupeErr
		}
		stats.DuplicateRows = dropped
		return &model.PhaseResult{RowsIn: in, RowsOut: batch.Len()}, nil
	}); err != nil {
		return err
	}
	stats.CleanRows = batch.Len()

	if err := p.trackPhase(ctx, run.ID, "hash", log, func() (*model.PhaseResult, error) {
		if !needsHashes(c.Write.Strategy) {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped, RowsIn: batch.Len(), RowsOut: batch.Len()}, nil
		}
		computer := &hashing.Computer{
			NaturalKeyColumns: c.NaturalKeyColumns(),
			ChangeKeyColumns:  c.ChangeTrackingColumns(),
			NaturalKeyCol:     c.Write.NaturalKeyCol,
			ChangeKeyCol:      c.Write.ChangeKeyCol,
			PartitionCol:      c.Write.PartitionCol,
			PartitionBuckets:  p.buckets,
		}
		if hashErr := computer.Apply(batch); hashErr != nil {
			return nil, hashErr
		}
		return &model.PhaseResult{RowsIn: batch.Len(), RowsOut: batch.Len()}, nil
	}); err != nil {
		return err
	}

	if err := p.trackPhase(ctx, run.ID, "lineage", log, func() (*model.PhaseResult, error) {
		lineage.Stamp(batch, sourceLabel(c), run.ID)
		return &model.PhaseResult{RowsIn: batch.Len(), RowsOut: batch.Len()}, nil
	}); err != nil {
		return err
	}

	return p.trackPhase(ctx, run.ID, "write", log, func() (*model.PhaseResult, error) {
		mergeStats, writeErr := p.writer.Write(ctx, batch)
		if writeErr != nil {
			return nil, writeErr
		}
		stats.MergedRows = mergeStats.RecordsInserted
		stats.LogStat("new_records", mergeStats.NewRecords)
		stats.LogStat("changed_records", mergeStats.ChangedRecords)
		stats.LogStat("soft_deleted", mergeStats.SoftDeleted)
		stats.LogStat("records_inserted", mergeStats.RecordsInserted)
		if mergeStats.HistoricalStats != nil {
			stats.LogStat("current_rows", mergeStats.CurrentRows)
		}
		return &model.PhaseResult{RowsIn: batch.Len(), RowsOut: mergeStats.RecordsInserted}, nil
	})
}

func needsHashes(s contract.WriteStrategy) bool {
	switch s {
	case contract.StrategyT2CL, contract.StrategySCD2, contract.StrategySCD4:
		return true
	}
	return false
}

// sourceLabel is the _record_source value: source type plus its locator.
func sourceLabel(c *contract.Contract) string {
	switch c.Source.Type {
	case "csv", "xlsx":
		return c.Source.Type + ":" + c.Source.Path
	case "ftp":
		return "ftp:" + c.Source.URL
	case "salesforce":
		return "salesforce"
	default:
		return c.Source.Type
	}
}
