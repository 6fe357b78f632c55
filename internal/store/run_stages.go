package store

import (
	"fmt"
	"strings"
)

const (
	EventRunStarted        = "run.started"
	EventRunCompleted      = "run.completed"
	EventRunFailed         = "run.failed"
	EventRunCancelled      = "run.cancelled"
	EventStageStarted      = "stage.started"
	EventStageCompleted    = "stage.completed"
	EventStageFailed       = "stage.failed"
	EventArtifactExtracted = "artifact.extracted"
	EventReportPersisted   = "report.persisted"
)

const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusFailed    = "failed"
	RunStatusComplete  = "complete"
	RunStatusCancelled = "cancelled"
)

// NormalizeEventType lowercases the type and accepts underscore separators.
func NormalizeEventType(eventType string) string {
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	return strings.ReplaceAll(normalized, "_", ".")
}

// BuildRunStageFromEvent maps a stage lifecycle event to a stage row.
func BuildRunStageFromEvent(event RunEvent) (RunStage, bool) {
	eventType := NormalizeEventType(event.Type)
	var status string
	switch eventType {
	case EventStageStarted:
		status = RunStatusRunning
	case EventStageCompleted:
		status = RunStatusComplete
	case EventStageFailed:
		status = RunStatusFailed
	default:
		return RunStage{}, false
	}
	stageID := firstString(event.Payload, "stage_id")
	index := firstInt(event.Payload, "stage")
	if stageID == "" {
		stageID = fmt.Sprintf("stage-%d", index)
	}
	name := firstString(event.Payload, "name")
	if name == "" {
		name = stageID
	}
	stage := RunStage{
		RunID:   event.RunID,
		Index:   index,
		StageID: stageID,
		Name:    name,
		Status:  status,
		Seq:     event.Seq,
	}
	if status == RunStatusRunning {
		stage.StartedAt = event.Timestamp
	} else {
		stage.CompletedAt = event.Timestamp
		stage.Error = firstString(event.Payload, "error")
		stage.ErrorKind = firstString(event.Payload, "error_kind")
	}
	stage.Diagnostics = buildDiagnostics(event, stage)
	return stage, true
}

// MergeRunStage folds a later event's view of a stage into the stored row.
func MergeRunStage(existing RunStage, incoming RunStage) RunStage {
	merged := existing
	if merged.RunID == "" {
		merged.RunID = incoming.RunID
	}
	if merged.StageID == "" {
		merged.StageID = incoming.StageID
	}
	if merged.Index == 0 {
		merged.Index = incoming.Index
	}
	if merged.Name == "" || merged.Name == merged.StageID {
		merged.Name = incoming.Name
	}
	if incoming.Status != "" {
		merged.Status = incoming.Status
	}
	if merged.Seq == 0 || (incoming.Seq > 0 && incoming.Seq < merged.Seq) {
		merged.Seq = incoming.Seq
	}
	if merged.StartedAt == "" && incoming.StartedAt != "" {
		merged.StartedAt = incoming.StartedAt
	}
	if incoming.CompletedAt != "" {
		merged.CompletedAt = incoming.CompletedAt
	}
	if incoming.Error != "" {
		merged.Error = incoming.Error
	}
	if incoming.ErrorKind != "" {
		merged.ErrorKind = incoming.ErrorKind
	}
	if merged.Diagnostics == nil {
		merged.Diagnostics = map[string]any{}
	}
	for key, value := range incoming.Diagnostics {
		merged.Diagnostics[key] = value
	}
	if merged.Name == "" {
		merged.Name = merged.StageID
	}
	return merged
}

// ApplyRunEvent returns run updated by a run or stage lifecycle event.
func ApplyRunEvent(run Run, event RunEvent) Run {
	switch NormalizeEventType(event.Type) {
	case EventRunStarted, EventStageStarted:
		if run.Status == "" || run.Status == RunStatusPending {
			run.Status = RunStatusRunning
		}
	case EventRunCompleted:
		run.Status = RunStatusComplete
	case EventRunFailed:
		run.Status = RunStatusFailed
		run.FailedStage = firstInt(event.Payload, "failed_stage")
		run.FailedStageID = firstString(event.Payload, "failed_stage_id")
		run.Reason = firstString(event.Payload, "reason")
	case EventRunCancelled:
		run.Status = RunStatusCancelled
		run.Reason = firstString(event.Payload, "reason")
	}
	if event.Seq > run.LastSeq {
		run.LastSeq = event.Seq
	}
	if strings.TrimSpace(event.Timestamp) != "" {
		run.UpdatedAt = event.Timestamp
	}
	return run
}

func firstString(payload map[string]any, keys ...string) string {
	if payload == nil {
		return ""
	}
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		if typed, ok := value.(string); ok {
			if trimmed := strings.TrimSpace(typed); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func firstInt(payload map[string]any, keys ...string) int {
	if payload == nil {
		return 0
	}
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case int:
			return typed
		case int64:
			return int(typed)
		case float64:
			return int(typed)
		}
	}
	return 0
}

func buildDiagnostics(event RunEvent, stage RunStage) map[string]any {
	diagnostics := map[string]any{}
	for key, value := range event.Payload {
		diagnostics[key] = value
	}
	diagnostics["source"] = event.Source
	diagnostics["seq"] = event.Seq
	if stage.Error != "" {
		diagnostics["error"] = stage.Error
	}
	if event.TraceID != "" {
		diagnostics["trace_id"] = event.TraceID
	}
	return diagnostics
}
