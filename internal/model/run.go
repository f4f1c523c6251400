package model

// RunStatus is a state in the ingestion run state machine.
type RunStatus string

const (
	RunResolvingFamily RunStatus = "resolving_family"
	RunHarvesting      RunStatus = "harvesting"
	RunNegotiating     RunStatus = "negotiating_schema"
	RunSynthesizing    RunStatus = "synthesizing_identifiers"
	RunNormalizing     RunStatus = "normalizing"
	RunPersisting      RunStatus = "persisting"
	RunDone            RunStatus = "done"
	RunPartial         RunStatus = "partial"
	RunFailed          RunStatus = "failed"
)

// Terminal reports whether s ends a run.
func (s RunStatus) Terminal() bool {
	return s == RunDone || s == RunPartial || s == RunFailed
}

// IngestResult is the structured outcome of one ingestion run.
type IngestResult struct {
	OK          bool      `json:"ok"`
	RunID       string    `json:"run_id"`
	Status      RunStatus `json:"status"`
	Family      string    `json:"family"`
	Table       string    `json:"table"`
	Brand       string    `json:"brand,omitempty"`
	Identifiers []string  `json:"identifiers"`
	Written     int       `json:"written"`
	Inserted    int       `json:"inserted"`
	Processed   int       `json:"processed"`
	Skipped     []string  `json:"skipped"`
	SkipReasons []Skip    `json:"skip_reasons"`
	DocType     DocType   `json:"doc_type"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// AddSkip records a rejected candidate.
func (r *IngestResult) AddSkip(s Skip) {
	r.Skipped = append(r.Skipped, s.Identifier)
	r.SkipReasons = append(r.SkipReasons, s)
}

// SkipCounts tallies skips by reason.
func (r *IngestResult) SkipCounts() map[SkipReason]int {
	out := make(map[SkipReason]int)
	for _, s := range r.SkipReasons {
		out[s.Reason]++
	}
	return out
}
