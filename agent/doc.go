// Package agent contains the internal workers of the pipeline: Planner,
// Architect, Coder, Tester, ErrorRecovery and Aggregator.
//
// Every worker implements core.Worker. A worker touches only the tasks it
// owns, appends to the turn log and proposes the next routing hint; the
// router decides who runs next. Reasoning goes through a model.Model bounded
// by a per-call timeout, and output flows through a shared recovery.Machine:
//
//	producer (architect, coder, tester) → validating
//	tester → accepted | retry_pending | exhausted
//	error_recovery → validating (local fix) | requeued (external agent)
//
// Validation itself is pluggable through the Validator interface
// (ModelValidator, CommandValidator, ValidatorFunc).
package agent
