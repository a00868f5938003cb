package merge

import (
	"github.com/sells-group/lakeflow/internal/model"
)

// detectSoftDeletes finds active, non-tombstone entities whose natural key is
// absent from the incoming batch and appends their close + tombstone
// mutations to the set. The tombstone carries the last known attributes
// forward; nothing is nulled out. Entities already tombstoned are skipped so
// an unchanged re-run stays a no-op.
func detectSoftDeletes(active map[string]model.HistorizedRow, incoming []model.Row, naturalKeyCol string, ms *model.MutationSet) int {
	incomingKeys := make(map[string]bool, len(incoming))
	for _, row := range incoming {
		if nk, ok := row[naturalKeyCol].(string); ok {
			incomingKeys[nk] = true
		}
	}

	deleted := 0
	for nk, cur := range active {
		if incomingKeys[nk] || cur.DeletionFlag {
			continue
		}

		ms.CloseKeys = append(ms.CloseKeys, nk)
		ms.Inserts = append(ms.Inserts, model.HistorizedRow{
			NaturalKeyHash: cur.NaturalKeyHash,
			ChangeKeyHash:  cur.ChangeKeyHash,
			PartitionKey:   cur.PartitionKey,
			EffectiveFrom:  ms.CloseDate,
			EffectiveTo:    model.OpenEndedDate,
			IsCurrent:      true,
			DeletionFlag:   true,
			Attributes:     cur.Attributes.Clone(),
		})
		deleted++
	}
	return deleted
}
