package model

import "time"

// MergeStats summarizes one merge pass against a historized table.
type MergeStats struct {
	Strategy        string      `json:"strategy"`
	TargetTable     string      `json:"target_table"`
	FirstLoad       bool        `json:"first_load"`
	NewRecords      int         `json:"new_records"`
	ChangedRecords  int         `json:"changed_records"`
	SoftDeleted     int         `json:"soft_deleted"`
	RecordsInserted int         `json:"records_inserted"`
	ProcessDate     time.Time   `json:"process_date"`
	MaxSurrogateKey int64       `json:"max_surrogate_key,omitempty"`
	CurrentTable    string      `json:"current_table,omitempty"`
	CurrentRows     int         `json:"current_rows,omitempty"`
	HistoricalStats *MergeStats `json:"historical_stats,omitempty"`
}

// PipelineStats tracks operational counters for a single pipeline run. It is
// carried through the stages and finalized onto the run record.
type PipelineStats struct {
	RowsRead      int            `json:"rows_read"`
	DuplicateRows int            `json:"duplicate_rows"`
	ViolationRows int            `json:"violation_rows"`
	CleanRows     int            `json:"clean_rows"`
	MergedRows    int            `json:"merged_rows"`
	RejectedRows  int            `json:"rejected_rows"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time,omitzero"`
	MergeDetails  map[string]int `json:"merge_details,omitempty"`
}

// NewPipelineStats creates a stats record with the start time set.
func NewPipelineStats() *PipelineStats {
	return &PipelineStats{
		StartTime:    time.Now().UTC(),
		MergeDetails: make(map[string]int),
	}
}

// LogStat adds value to a named merge-detail counter.
func (s *PipelineStats) LogStat(metric string, value int) {
	if s.MergeDetails == nil {
		s.MergeDetails = make(map[string]int)
	}
	s.MergeDetails[metric] += value
}

// Finalize marks the run as complete.
func (s *PipelineStats) Finalize() {
	s.EndTime = time.Now().UTC()
}
