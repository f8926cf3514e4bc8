package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/flowforge/flowforge/engine/core"
	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/store"
	"github.com/flowforge/flowforge/pkg/logger"
)

// Flush upserts trace and every buffered span for workflowId. Upserts
// are idempotent on (traceId, spanId): a span already present in the
// store is patched (only EndedAtMs/State/Events may change after a
// span is first written), never duplicated. Every store error is
// retried with exponential backoff via go-retry (10ms base, at most 3
// retries); once retries are exhausted the last error is returned
// wrapped as "audit: flush <workflowId>: ..." so the caller's
// transaction rolls back.
func Flush(ctx context.Context, s store.Store, emitter *Emitter, trace *model.AuditTrace, workflowId model.WorkflowId) error {
	pending := emitter.Pending(workflowId)
	if len(pending) == 0 && trace == nil {
		return nil
	}
	backoff := retry.NewExponential(10 * time.Millisecond)
	backoff = retry.WithMaxRetries(3, backoff)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if trace != nil {
			if err := upsertTrace(ctx, s, trace); err != nil {
				return retry.RetryableError(err)
			}
		}
		for _, span := range pending {
			if err := upsertSpan(ctx, s, span); err != nil {
				return retry.RetryableError(err)
			}
		}
		return nil
	})
	if err != nil {
		logger.FromContext(ctx).Error("audit flush failed", "workflowId", workflowId.String(), "error", err)
		return fmt.Errorf("audit: flush %s: %w", workflowId, err)
	}
	emitter.clearPending(workflowId)
	return nil
}

func upsertTrace(ctx context.Context, s store.Store, trace *model.AuditTrace) error {
	existing, found, err := s.Unique(ctx, "auditTraces", "traceId", trace.TraceId.String())
	if err != nil {
		return fmt.Errorf("audit: lookup trace %s: %w", trace.TraceId, err)
	}
	row := traceToRow(trace)
	if !found {
		_, err := s.Insert(ctx, "auditTraces", row)
		return err
	}
	id, err := core.ParseID(fmt.Sprint(existing["id"]))
	if err != nil {
		return fmt.Errorf("audit: parse trace row id: %w", err)
	}
	return s.Patch(ctx, "auditTraces", id, row)
}

func traceToRow(t *model.AuditTrace) store.Row {
	row := store.Row{
		"traceId":     t.TraceId.String(),
		"name":        t.Name,
		"state":       string(t.State),
		"startedAt":   t.StartedAtMs,
		"attributes":  t.Attributes,
	}
	if t.EndedAtMs != nil {
		row["endedAt"] = *t.EndedAtMs
	}
	if t.InitiatorUserId != nil {
		row["initiatorUserId"] = t.InitiatorUserId.String()
	}
	return row
}

func upsertSpan(ctx context.Context, s store.Store, span *model.AuditSpan) error {
	existing, found, err := s.Unique(ctx, "auditSpans", "spanId", span.SpanId.String())
	if err != nil {
		return fmt.Errorf("audit: lookup span %s: %w", span.SpanId, err)
	}
	row, err := spanToRow(span)
	if err != nil {
		return err
	}
	if !found {
		_, err := s.Insert(ctx, "auditSpans", row)
		return err
	}
	id, err := core.ParseID(fmt.Sprint(existing["id"]))
	if err != nil {
		return fmt.Errorf("audit: parse span row id: %w", err)
	}
	// Spans are append-mostly once written: only EndedAtMs/State/Events
	// may change on a re-flush of the same span.
	patch := store.Row{"state": row["state"]}
	if v, ok := row["endedAt"]; ok {
		patch["endedAt"] = v
	}
	if v, ok := row["events"]; ok {
		patch["events"] = v
	}
	return s.Patch(ctx, "auditSpans", id, patch)
}

func spanToRow(s *model.AuditSpan) (store.Row, error) {
	pathStrs := make([]string, len(s.Path))
	for i, p := range s.Path {
		pathStrs[i] = string(p)
	}
	eventsJSON, err := json.Marshal(s.Events)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal span events: %w", err)
	}
	row := store.Row{
		"spanId":         s.SpanId.String(),
		"traceId":        s.TraceId.String(),
		"depth":          s.Depth,
		"path":           pathStrs,
		"operation":      s.Operation,
		"operationType":  string(s.OperationType),
		"startedAt":      s.StartedAtMs,
		"state":          s.State,
		"sequenceNumber": s.SequenceNumber,
		"resourceType":   s.ResourceType,
		"resourceId":     s.ResourceId,
		"resourceName":   s.ResourceName,
		"attributes":     s.Attributes,
		"events":         json.RawMessage(eventsJSON),
	}
	if s.ParentSpanId != nil {
		row["parentSpanId"] = s.ParentSpanId.String()
	}
	if s.EndedAtMs != nil {
		row["endedAt"] = *s.EndedAtMs
	}
	return row, nil
}
