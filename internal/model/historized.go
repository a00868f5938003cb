package model

import "time"

// Reserved metadata columns stamped by the hashing processor and the merge
// engine. Business attribute columns must not collide with these.
const (
	ColNaturalKeyHash = "natural_key_hash"
	ColChangeKeyHash  = "change_key_hash"
	ColPartitionKey   = "partition_key"
	ColEffectiveFrom  = "effective_from"
	ColEffectiveTo    = "effective_to"
	ColIsCurrent      = "is_current"
	ColDeletionFlag   = "deletion_flag"
	ColSurrogateKey   = "sk"
)

// TemporalColumns are the historization columns stripped by the current
// projection.
var TemporalColumns = []string{ColEffectiveFrom, ColEffectiveTo, ColIsCurrent, ColDeletionFlag}

// OpenEndedDate is the sentinel effective_to for a row that is still the
// current truth for its entity. It sorts after every real process date.
var OpenEndedDate = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// HistorizedRow is one persisted record of a historized table: metadata plus
// the business attribute columns.
type HistorizedRow struct {
	NaturalKeyHash string
	ChangeKeyHash  string
	PartitionKey   int64
	SurrogateKey   int64 // 0 when the strategy does not allocate surrogate keys
	EffectiveFrom  time.Time
	EffectiveTo    time.Time
	IsCurrent      bool
	DeletionFlag   bool
	Attributes     Row
}

// MutationSet is the complete, atomically committed output of one merge pass:
// close the active rows for CloseKeys at CloseDate, then insert Inserts.
type MutationSet struct {
	CloseKeys []string
	CloseDate time.Time
	Inserts   []HistorizedRow
}

// Empty reports whether the pass produced no row mutations.
func (m *MutationSet) Empty() bool {
	return len(m.CloseKeys) == 0 && len(m.Inserts) == 0
}
