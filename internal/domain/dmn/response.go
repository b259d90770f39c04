package dmn

// Output column names shared by the task decision tables.
const (
	ColumnAction             = "action"
	ColumnTaskCategory       = "taskCategory"
	ColumnTaskID             = "taskId"
	ColumnName               = "name"
	ColumnGroup              = "group"
	ColumnWorkingDaysAllowed = "workingDaysAllowed"
)

// Row is one output row of a decision table evaluation
type Row map[string]Value

// Get returns the named column
func (r Row) Get(column string) (Value, bool) {
	v, ok := r[column]
	return v, ok
}

// String returns the named column as text, empty when absent
func (r Row) String(column string) string {
	return r[column].Raw
}

// Action returns the action column
func (r Row) Action() string {
	return r.String(ColumnAction)
}

// TaskCategory returns the task category column
func (r Row) TaskCategory() string {
	return r.String(ColumnTaskCategory)
}

// EvaluateResponse is the evaluator's reply
type EvaluateResponse struct {
	Results []Row `json:"results"`
}

// Rows returns the ordered result rows; never nil.
func (r *EvaluateResponse) Rows() []Row {
	if r == nil || r.Results == nil {
		return []Row{}
	}
	return r.Results
}
