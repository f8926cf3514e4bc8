// Package model declares the value types shared by every engine package:
// workflow/task/condition definitions, their runtime instances, work
// items, audit records, and the authorization value types. Nothing in
// this package performs I/O or validation beyond constructor
// invariants; building and mutating these values is the job of
// engine/definition, engine/enablement, engine/runtime, engine/auth
// and engine/audit.
//
// Invariants enforced elsewhere but documented here because they
// constrain every type in this package:
//
//  1. A task is enabled iff its join predicate over incoming
//     conditions is satisfied for the current marking.
//  2. A WorkItem exists iff its TaskInstance is enabled or started; at
//     most one WorkItem per (workflow, task, generation) for xor
//     splits, up to one per arc for and splits.
//  3. WorkItem.State follows created -> offered -> (claimed ->)?
//     started -> completed | canceled | failed; skipping offered is
//     only valid for automated tasks.
//  4. Completing a work item, applying the split, transitioning the
//     task, and recomputing downstream enablement happen atomically
//     in one host transaction.
//  5. Every state mutation produces at least one span; a trace's
//     EndedAt is set once every leaf reaches a terminal state.
package model
