// Package harness runs RQL scenario files against a fresh executor.
//
// A scenario is a YAML file naming the backends to start, setup statements
// that must succeed, and steps whose results are compared with an expect
// clause:
//
//	name: orders
//	description: insert and read back
//	backends: [sqlite]
//	setup:
//	  - CREATE TABLE orders (id INTEGER PRIMARY KEY, amount INTEGER)
//	steps:
//	  - query: INSERT INTO orders (amount) VALUES (:amount)
//	    params: {amount: 30}
//	    expect: {rows_affected: 1}
//	  - query: SELECT amount FROM orders
//	    expect:
//	      columns: [amount]
//	      rows: [[30]]
//	assertions:
//	  - type: history_count
//	    count: 3
//
// Every run uses in-memory backends, a deterministic clock and a fixed
// session id, so the trace of a scenario is byte-identical across runs and
// can be compared with a golden file (see RunWithGolden).
//
// The placeholder {{dir}} in any query is replaced with the directory of
// the scenario file, for attaching fixture files with USE.
package harness
