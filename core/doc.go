// Package core provides the foundational domain types, interfaces and helpers
// used by AgentRelay. It defines the core abstractions for:
//
//   - Executions (state-machine tracked runs of an agent, including nested
//     delegations)
//   - Delegation requests (correlated hand-offs between agents)
//   - Events (immutable lifecycle records published on the shared bus)
//   - Checkpoints (replayable snapshots of graph state per thread)
//   - Pluggable stores for executions, checkpoints and thread transcripts
//
// The package intentionally keeps implementation concerns (persistence,
// graph execution, the delegation coordinator) out of scope, exposing small
// interfaces to enable custom backends and extensions.
package core
