package domain

// UpsertOutcome is what a single keyed write did to storage.
type UpsertOutcome int

const (
	OutcomeInserted UpsertOutcome = iota + 1
	OutcomeUpdated
	// OutcomeUnchanged means the stored row already held identical values.
	OutcomeUnchanged
)

// LoadResult counts per-record outcomes of one load call.
// Skipped covers unchanged rows and records rejected by storage constraints;
// Rejected is the part of Skipped that storage refused.
type LoadResult struct {
	Inserted int
	Updated  int
	Skipped  int
	Rejected int
}

func (r *LoadResult) Reject() {
	r.Skipped++
	r.Rejected++
}

func (r *LoadResult) Record(o UpsertOutcome) {
	switch o {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeUpdated:
		r.Updated++
	default:
		r.Skipped++
	}
}

func (r LoadResult) Total() int { return r.Inserted + r.Updated + r.Skipped }
