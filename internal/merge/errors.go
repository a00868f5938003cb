package merge

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lakeflow/internal/model"
)

// Precondition violations. Both are raised before any table mutation is
// issued; the target table is untouched when they surface.
var (
	// ErrMissingHashColumns means the incoming batch lacks the natural-key,
	// change-key or partition column the upstream hashing stage should have
	// stamped.
	ErrMissingHashColumns = eris.New("merge: batch is missing required hash columns")

	// ErrDuplicateNaturalKeys means the incoming batch carries the same
	// natural key more than once and the duplicate policy is "fail".
	ErrDuplicateNaturalKeys = eris.New("merge: duplicate natural keys in incoming batch")
)

// CurrentRebuildError reports an SCD4 current-table rebuild failure after the
// historical merge already committed. Historical carries the stats of the
// committed merge so the caller can retry the rebuild alone.
type CurrentRebuildError struct {
	CurrentTable string
	Historical   *model.MergeStats
	Err          error
}

func (e *CurrentRebuildError) Error() string {
	return fmt.Sprintf("merge: current table %s rebuild failed after historical merge committed: %v", e.CurrentTable, e.Err)
}

func (e *CurrentRebuildError) Unwrap() error {
	return e.Err
}
