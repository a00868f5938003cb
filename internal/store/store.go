package store

import (
	"context"
	"time"

	"github.com/sells-group/lakeflow/internal/model"
)

// RunFilter specifies criteria for listing pipeline runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Contract     string          `json:"contract,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitzero"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// TableStore is the transactional table store the merge engine writes
// through. Implementations must make CreateTable, ApplyMerge and ReplaceRows
// atomic per call: either the whole row set lands or none of it does.
type TableStore interface {
	// Historized tables
	TableExists(ctx context.Context, table string) (bool, error)
	CreateTable(ctx context.Context, table string, rows []model.HistorizedRow) error
	ReadActive(ctx context.Context, table string) ([]model.HistorizedRow, error)
	ReadAll(ctx context.Context, table string) ([]model.HistorizedRow, error)
	ApplyMerge(ctx context.Context, table string, ms *model.MutationSet) error

	// Surrogate keys. AllocateSurrogateKeys reserves n consecutive keys and
	// returns the first; the generator is monotonic and collision-free for
	// the backend's concurrency model.
	AllocateSurrogateKeys(ctx context.Context, table string, n int) (int64, error)
	MaxSurrogateKey(ctx context.Context, table string) (int64, error)

	// Plain tables (append/overwrite strategies, the SCD4 current table)
	AppendRows(ctx context.Context, table string, rows []model.Row) error
	ReplaceRows(ctx context.Context, table string, rows []model.Row) error
	ReadRows(ctx context.Context, table string) ([]model.Row, error)

	// CurrentView filters a historized table to is_current AND NOT
	// deletion_flag and returns attribute rows with the temporal metadata
	// stripped.
	CurrentView(ctx context.Context, table string) ([]model.Row, error)

	// Run log
	CreateRun(ctx context.Context, contractName, table, strategy string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, stats *model.PipelineStats, runErr string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	CreatePhase(ctx context.Context, runID, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
