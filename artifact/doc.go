// Package artifact stores the outputs workers produce during a run.
//
// Artifacts are keyed by run id and artifact id (the task id, optionally
// suffixed with a revision). The aggregator lists them into the final report.
package artifact
