// Package types contains the data model shared by the black-box test engine:
// test cases, pipeline configurations, compilation units, artifacts,
// execution results, expectations and verdicts, plus the error taxonomy used
// between components.
package types
