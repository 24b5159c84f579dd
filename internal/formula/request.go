package formula

import "time"

// Status is the outcome recorded in an ExecutionResult.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// OutputConfig shapes what an execution returns.
type OutputConfig struct {
	// OutputColumn renames the result column of single-column formulas.
	OutputColumn string `json:"output_column,omitempty"`
	// IncludeMetadata adds row counts and output columns to the result metadata.
	IncludeMetadata bool `json:"include_metadata"`
	// SampleSize truncates the returned rows. Metadata still counts all of them.
	SampleSize *int `json:"sample_size,omitempty"`
}

// ExecutionRequest asks the registry to run one formula over a batch of rows.
type ExecutionRequest struct {
	FormulaName  string       `json:"formula_name"`
	Data         []Row        `json:"data"`
	Parameters   Params       `json:"parameters"`
	OutputConfig OutputConfig `json:"output_config"`
}

// NewRequest builds a request that includes metadata in its result.
func NewRequest(name string, data []Row, params Params) ExecutionRequest {
	return ExecutionRequest{
		FormulaName:  name,
		Data:         data,
		Parameters:   params,
		OutputConfig: OutputConfig{IncludeMetadata: true},
	}
}

// Metadata describes an execution. FormulaName and ElapsedMS are always set.
type Metadata struct {
	FormulaName   string        `json:"formula_name"`
	InputRows     int           `json:"input_rows,omitempty"`
	OutputRows    int           `json:"output_rows,omitempty"`
	ElapsedMS     float64       `json:"processing_time_ms"`
	OutputColumns []string      `json:"output_columns,omitempty"`
	Elapsed       time.Duration `json:"-"`
}

// ExecutionResult is the envelope returned for every execution attempt.
type ExecutionResult struct {
	Status       Status   `json:"status"`
	Data         []Row    `json:"data"`
	Metadata     Metadata `json:"metadata"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// Succeeded reports StatusSuccess.
func (r ExecutionResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// SetElapsed records d in both duration and millisecond form.
func (m *Metadata) SetElapsed(d time.Duration) {
	m.Elapsed = d
	m.ElapsedMS = float64(d.Microseconds()) / 1000
}

// Shape renames the single declared result column when OutputColumn is set and
// truncates rows to SampleSize. It returns the shaped rows and columns.
func (c OutputConfig) Shape(rows []Row, columns []string) ([]Row, []string) {
	if c.OutputColumn != "" && len(columns) == 1 && columns[0] != c.OutputColumn {
		from := columns[0]
		for i, row := range rows {
			v, ok := row[from]
			if !ok {
				continue
			}
			renamed := row.Clone()
			delete(renamed, from)
			renamed[c.OutputColumn] = v
			rows[i] = renamed
		}
		columns = []string{c.OutputColumn}
	}
	if c.SampleSize != nil && *c.SampleSize >= 0 && *c.SampleSize < len(rows) {
		rows = rows[:*c.SampleSize]
	}
	return rows, columns
}
