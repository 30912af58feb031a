package harness

// Trace phases.
const (
	PhaseSetup = "setup"
	PhaseStep  = "step"
)

// TraceEvent records one executed statement.
type TraceEvent struct {
	Seq          int        `json:"seq"`
	Phase        string     `json:"phase"`
	Query        string     `json:"query"`
	Outcome      string     `json:"outcome"`
	Columns      []string   `json:"columns,omitempty"`
	Rows         [][]string `json:"rows,omitempty"`
	RowsAffected *int64     `json:"rows_affected,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// SessionID is the id of the session the steps ran in.
	SessionID string `json:"session_id"`

	// Trace lists setup statements and steps in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed check. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event, numbering it after the previous one.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
