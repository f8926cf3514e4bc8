package audit

import (
	"context"
	"fmt"

	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/store"
)

// SnapshotWriter is the subset of engine/cache.SnapshotCache Snapshot
// needs to populate the local read-through cache.
type SnapshotWriter interface {
	SnapshotLookup
	Put(ctx context.Context, snap model.AuditWorkflowSnapshot) error
}

// Snapshot implements computeWorkflowSnapshot: reconstructs traceId's
// root workflow state from scratch as of atMs, inserts a new
// auditWorkflowSnapshots row in the host store (trace, workflow,
// timestamp and sequence number; the reconstructed state itself is not
// part of that row) and, if cache is non-nil, puts the full snapshot in
// the local read-through cache. Every call inserts a row; an existing
// row for the same trace is neither looked up nor replaced. Snapshots are strictly a
// performance aid — Reconstruct never requires one to exist, and
// removing every snapshot must not change Reconstruct's output for
// any timestamp.
func Snapshot(
	ctx context.Context,
	s store.Store,
	cache SnapshotWriter,
	traceId model.TraceId,
	atMs int64,
	seq int64,
) (model.AuditWorkflowSnapshot, error) {
	rootWorkflowId := model.WorkflowId(traceId)
	state, err := Reconstruct(ctx, s, nil /* bypass cache: compute from scratch */, traceId, atMs, rootWorkflowId, true)
	if err != nil {
		return model.AuditWorkflowSnapshot{}, fmt.Errorf("audit: compute snapshot: %w", err)
	}
	snap := model.AuditWorkflowSnapshot{
		TraceId:        traceId,
		WorkflowId:     rootWorkflowId,
		TimestampMs:    atMs,
		SequenceNumber: seq,
		State:          state,
	}
	row := store.Row{
		"traceId":        snap.TraceId.String(),
		"workflowId":     snap.WorkflowId.String(),
		"timestamp":      snap.TimestampMs,
		"sequenceNumber": snap.SequenceNumber,
	}
	if _, err := s.Insert(ctx, "auditWorkflowSnapshots", row); err != nil {
		return snap, fmt.Errorf("audit: persist snapshot: %w", err)
	}
	if cache != nil {
		if err := cache.Put(ctx, snap); err != nil {
			return snap, fmt.Errorf("audit: cache snapshot: %w", err)
		}
	}
	return snap, nil
}
