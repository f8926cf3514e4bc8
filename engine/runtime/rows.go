// Package runtime implements the runtime scheduler (§4.3) and
// work-item lifecycle (§4.4): the Engine type drives a single
// WorkflowDefinition's instances to enablement fixpoint, authorizes
// and tracks work items, and emits an audit span for every mutation.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/flowforge/flowforge/engine/core"
	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/engine/store"
)

func taskGenKey(workflowId model.WorkflowId, taskName model.TaskName, generation int) string {
	return workflowId.String() + "|" + string(taskName) + "|" + strconv.Itoa(generation)
}

func workItemTaskKey(workflowId model.WorkflowId, taskName model.TaskName, generation int) string {
	return taskGenKey(workflowId, taskName, generation)
}

func workflowRow(wf *model.WorkflowInstance) store.Row {
	marking := make(map[string]any, len(wf.Marking))
	for c, n := range wf.Marking {
		marking[string(c)] = n
	}
	row := store.Row{
		"workflowId":        wf.Id.String(),
		"definitionName":    wf.DefinitionName,
		"definitionVersion": wf.DefinitionVer,
		"state":             string(wf.State),
		"marking":           marking,
		"startedAt":         wf.StartedAtMs,
	}
	if wf.ParentRef != nil {
		row["parentRef"] = wf.ParentRef.String()
		row["parentTask"] = string(wf.ParentTask)
	}
	if wf.EndedAtMs != nil {
		row["endedAt"] = *wf.EndedAtMs
	}
	return row
}

func rowToWorkflow(row store.Row) *model.WorkflowInstance {
	wf := &model.WorkflowInstance{
		Id:             model.WorkflowId(asString(row["workflowId"])),
		DefinitionName: asString(row["definitionName"]),
		DefinitionVer:  asString(row["definitionVersion"]),
		State:          model.WorkflowState(asString(row["state"])),
		StartedAtMs:    asInt64(row["startedAt"]),
	}
	if m, ok := row["marking"].(map[string]any); ok {
		marking := make(model.Marking, len(m))
		for k, v := range m {
			marking[model.ConditionName(k)] = int(asInt64(v))
		}
		wf.Marking = marking
	}
	if v, ok := row["parentRef"]; ok && asString(v) != "" {
		p := model.WorkflowId(asString(v))
		wf.ParentRef = &p
		wf.ParentTask = model.TaskName(asString(row["parentTask"]))
	}
	if v, ok := row["endedAt"]; ok {
		e := asInt64(v)
		wf.EndedAtMs = &e
	}
	return wf
}

func taskRow(t *model.TaskInstance) store.Row {
	return store.Row{
		"workflowId": t.WorkflowId.String(),
		"taskName":   string(t.TaskName),
		"generation": t.Generation,
		"state":      string(t.State),
		"taskGenKey": taskGenKey(t.WorkflowId, t.TaskName, t.Generation),
	}
}

func rowToTaskInstance(row store.Row) model.TaskInstance {
	return model.TaskInstance{
		WorkflowId: model.WorkflowId(asString(row["workflowId"])),
		TaskName:   model.TaskName(asString(row["taskName"])),
		Generation: int(asInt64(row["generation"])),
		State:      model.TaskState(asString(row["state"])),
	}
}

func workItemRow(wi *model.WorkItem) (store.Row, error) {
	row := store.Row{
		"workItemId":   wi.Id.String(),
		"workflowId":   wi.WorkflowId.String(),
		"taskName":     string(wi.TaskName),
		"generation":   wi.Generation,
		"state":        string(wi.State),
		"taskGenKey":   workItemTaskKey(wi.WorkflowId, wi.TaskName, wi.Generation),
		"payload":      json.RawMessage(wi.Payload),
		"aggregateId":  wi.AggregateTableId,
	}
	if wi.Offer != nil {
		row["offer"] = map[string]any{
			"requiredScope":   string(wi.Offer.RequiredScope),
			"claimPolicyCEL":  wi.Offer.ClaimPolicyCEL,
			"preassignedUser": wi.Offer.PreassignedUser.String(),
			"groupRestrict":   wi.Offer.GroupRestrict,
		}
	}
	if wi.Claim != nil {
		row["claim"] = map[string]any{
			"userId":      wi.Claim.UserId.String(),
			"claimedAtMs": wi.Claim.ClaimedAtMs,
		}
	}
	return row, nil
}

func rowToWorkItem(row store.Row) (*model.WorkItem, error) {
	wi := &model.WorkItem{
		Id:               model.WorkItemId(asString(row["workItemId"])),
		WorkflowId:       model.WorkflowId(asString(row["workflowId"])),
		TaskName:         model.TaskName(asString(row["taskName"])),
		Generation:       int(asInt64(row["generation"])),
		State:            model.WorkItemState(asString(row["state"])),
		AggregateTableId: asString(row["aggregateId"]),
	}
	if raw, ok := row["payload"]; ok {
		b, err := toBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("runtime: decode work item payload: %w", err)
		}
		wi.Payload = b
	}
	if m, ok := row["offer"].(map[string]any); ok {
		wi.Offer = &model.Offer{
			RequiredScope:  model.ScopeName(asString(m["requiredScope"])),
			ClaimPolicyCEL: asString(m["claimPolicyCEL"]),
			GroupRestrict:  asString(m["groupRestrict"]),
		}
		if u := asString(m["preassignedUser"]); u != "" {
			wi.Offer.PreassignedUser = model.UserId(u)
		}
	}
	if m, ok := row["claim"].(map[string]any); ok {
		wi.Claim = &model.Claim{
			UserId:      model.UserId(asString(m["userId"])),
			ClaimedAtMs: asInt64(m["claimedAtMs"]),
		}
	}
	return wi, nil
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case nil:
		return nil, nil
	default:
		return json.Marshal(v)
	}
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// findByUnique looks up id via a unique index and resolves its
// storage row id, for use with Patch. Returns found=false with a nil
// error when no row matches.
func findByUnique(ctx context.Context, s store.Store, table, index string, key any) (store.Row, core.ID, bool, error) {
	row, found, err := s.Unique(ctx, table, index, key)
	if err != nil || !found {
		return nil, "", found, err
	}
	id, err := core.ParseID(asString(row["id"]))
	if err != nil {
		return nil, "", false, fmt.Errorf("runtime: parse row id: %w", err)
	}
	return row, id, true, nil
}
