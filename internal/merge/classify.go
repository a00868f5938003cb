package merge

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/model"
)

// outcome is the per-key classification for one merge pass. Computed fresh
// every pass, never persisted.
type outcome int

const (
	outcomeNew outcome = iota
	outcomeChanged
	outcomeUnchanged
	// outcomeRevived is an incoming key whose active row is a tombstone: the
	// tombstone is closed and a fresh row opens, counted with new records.
	outcomeRevived
)

// classification partitions an incoming batch against the active row set.
type classification struct {
	newRows     []model.Row
	changedRows []model.Row
	revivedRows []model.Row
	unchanged   int
}

func (c *classification) insertCount() int {
	return len(c.newRows) + len(c.changedRows) + len(c.revivedRows)
}

// closeKeys lists the natural keys whose active row must be closed.
func (c *classification) closeKeys(naturalKeyCol string) []string {
	keys := make([]string, 0, len(c.changedRows)+len(c.revivedRows))
	for _, row := range c.changedRows {
		keys = append(keys, row[naturalKeyCol].(string))
	}
	for _, row := range c.revivedRows {
		keys = append(keys, row[naturalKeyCol].(string))
	}
	return keys
}

// classify performs the single hash-join comparison of the incoming batch
// against the currently active rows. Cost is O(active + incoming); no
// per-key lookups against the store.
func classify(active map[string]model.HistorizedRow, incoming []model.Row, naturalKeyCol, changeKeyCol string) (*classification, error) {
	cls := &classification{}

	for _, row := range incoming {
		nk, ok := row[naturalKeyCol].(string)
		if !ok || nk == "" {
			return nil, eris.Wrapf(ErrMissingHashColumns, "row has no %s value", naturalKeyCol)
		}

		cur, found := active[nk]
		switch {
		case !found:
			cls.newRows = append(cls.newRows, row)
		case cur.DeletionFlag:
			cls.revivedRows = append(cls.revivedRows, row)
		case cur.ChangeKeyHash != row[changeKeyCol]:
			cls.changedRows = append(cls.changedRows, row)
		default:
			cls.unchanged++
		}
	}
	return cls, nil
}

// resolveDuplicates enforces the batch-level no-duplicate-keys precondition.
// Under the fail policy duplicates abort the merge before any mutation; the
// keep policies resolve deterministically by batch order.
func resolveDuplicates(rows []model.Row, naturalKeyCol string, policy contract.DuplicatePolicy) ([]model.Row, error) {
	seen := make(map[string]int, len(rows))
	duplicates := 0

	for _, row := range rows {
		nk, _ := row[naturalKeyCol].(string)
		seen[nk]++
		if seen[nk] > 1 {
			duplicates++
		}
	}
	if duplicates == 0 {
		return rows, nil
	}

	switch policy {
	case contract.DuplicateKeepFirst:
		kept := make([]model.Row, 0, len(rows)-duplicates)
		taken := make(map[string]bool, len(seen))
		for _, row := range rows {
			nk, _ := row[naturalKeyCol].(string)
			if taken[nk] {
				continue
			}
			taken[nk] = true
			kept = append(kept, row)
		}
		return kept, nil
	case contract.DuplicateKeepLast:
		last := make(map[string]model.Row, len(seen))
		order := make([]string, 0, len(seen))
		for _, row := range rows {
			nk, _ := row[naturalKeyCol].(string)
			if _, ok := last[nk]; !ok {
				order = append(order, nk)
			}
			last[nk] = row
		}
		kept := make([]model.Row, 0, len(order))
		for _, nk := range order {
			kept = append(kept, last[nk])
		}
		return kept, nil
	default:
		return nil, eris.Wrapf(ErrDuplicateNaturalKeys, "%d duplicate keys", duplicates)
	}
}
