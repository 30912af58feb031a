package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/noctra/internal/backend"
)

// Scenario is one scenario file.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Backends lists the backends to start. Defaults to sqlite and duckdb.
	Backends []string `yaml:"backends,omitempty"`

	// DefaultBackend receives statements that reference no table.
	// Defaults to sqlite.
	DefaultBackend string `yaml:"default_backend,omitempty"`

	// SessionID is the fixed session id. Defaults to "test-session".
	SessionID string `yaml:"session_id,omitempty"`

	// Setup statements run before the steps and must succeed.
	Setup []string `yaml:"setup,omitempty"`

	// Steps are executed in order in a single session.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Dir is the directory of the scenario file, substituted for {{dir}}.
	Dir string `yaml:"-"`
}

// Step is one statement with its bindings and expected outcome.
type Step struct {
	Query  string         `yaml:"query"`
	Params map[string]any `yaml:"params,omitempty"`
	Args   []any          `yaml:"args,omitempty"`

	// Expect is optional; without it the step only has to succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes a step's expected result. Unset fields are not checked.
type Expect struct {
	Columns      []string `yaml:"columns,omitempty"`
	Rows         [][]any  `yaml:"rows,omitempty"`
	RowsAffected *int64   `yaml:"rows_affected,omitempty"`

	// Error is the expected error kind, e.g. PARAMETER. When set the step
	// must fail with that kind.
	Error string `yaml:"error,omitempty"`
}

// Assertion checks state after the steps.
type Assertion struct {
	// Type is one of query_rows, var_equals, source_registered or
	// history_count.
	Type string `yaml:"type"`

	// Query and Rows are used by query_rows.
	Query string  `yaml:"query,omitempty"`
	Rows  [][]any `yaml:"rows,omitempty"`

	// Name and Value are used by var_equals.
	Name  string `yaml:"name,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Alias and Backend are used by source_registered. Backend is optional.
	Alias   string `yaml:"alias,omitempty"`
	Backend string `yaml:"backend,omitempty"`

	// Count and Outcome are used by history_count. Without an outcome
	// every entry is counted.
	Count   int    `yaml:"count,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
}

// Assertion type constants.
const (
	AssertQueryRows        = "query_rows"
	AssertVarEquals        = "var_equals"
	AssertSourceRegistered = "source_registered"
	AssertHistoryCount     = "history_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so that typos do not silently disable a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve scenario path: %w", err)
	}
	scenario.Dir = filepath.Dir(abs)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, name := range s.Backends {
		if _, ok := backend.ParseID(name); !ok {
			return fmt.Errorf("backends: unknown backend %q", name)
		}
	}
	if s.DefaultBackend != "" {
		if _, ok := backend.ParseID(s.DefaultBackend); !ok {
			return fmt.Errorf("default_backend: unknown backend %q", s.DefaultBackend)
		}
	}

	for i, stmt := range s.Setup {
		if stmt == "" {
			return fmt.Errorf("setup[%d]: statement is empty", i)
		}
	}
	for i, step := range s.Steps {
		if step.Query == "" {
			return fmt.Errorf("steps[%d]: query is required", i)
		}
		if step.Expect != nil && step.Expect.Error != "" &&
			(step.Expect.Columns != nil || step.Expect.Rows != nil || step.Expect.RowsAffected != nil) {
			return fmt.Errorf("steps[%d].expect: error cannot be combined with a result", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertQueryRows:
		if a.Query == "" {
			return fmt.Errorf("assertions[%d]: query is required for query_rows", index)
		}
	case AssertVarEquals:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for var_equals", index)
		}
	case AssertSourceRegistered:
		if a.Alias == "" {
			return fmt.Errorf("assertions[%d]: alias is required for source_registered", index)
		}
	case AssertHistoryCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for history_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
