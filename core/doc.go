// Package core provides the foundational domain types and contracts shared by
// every codemesh component. It defines:
//
//   - Task and its monotonic status lifecycle (pending → in_progress → completed|failed)
//   - WorkflowState, the single-owner record threaded through a run
//   - RouteTarget, the closed routing variant (Internal, External, Terminal)
//   - Worker, the contract implemented by local and delegating workers
//   - FinalReport, the aggregator's output
//   - The error taxonomy (DiscoveryError, RoutingError, ValidationError,
//     DelegationError, ExhaustedRetryError)
//
// Concrete workers, routing, discovery and delegation live in their own
// packages and depend on core, never the other way round.
package core
