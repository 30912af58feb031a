// Package ir provides the shared tabular data model and error taxonomy.
//
// Every backend produces an *ir.ResultSet and every consumer (CLI, export,
// harness) reads one. ir imports nothing internal, so it stays the
// foundational layer with no circular dependencies.
//
// Key constraints:
//   - Value is sealed: Null, Int, Float, Text, Bool, Blob
//   - Column ordinals are 0-based and dense
//   - Row width always equals the column count
//   - Every failure reported by the core is an *ir.Error with a Kind
package ir
