// Package pipeline implements a cyclic, stage-based orchestration engine
// for multi-step review workflows.
//
// A pipeline is a directed graph of stages over a shared, schema-validated
// state. Stages produce structured verdicts: approve and move forward,
// or reject with feedback and route back for revision. Rejection loops are
// bounded by a per-pipeline iteration limit, so a stubborn reviewer ends a
// run instead of spinning it forever.
//
// Stages can fan out: members of a parallel group execute concurrently
// against the same immutable snapshot, and their updates merge back in
// declaration order under the schema's merge policies. The group's primary
// member supplies the routing decision for the whole group.
//
// Every executed step is journaled before the run proceeds, so a finished
// or aborted run can be replayed into its full decision trail.
package pipeline
