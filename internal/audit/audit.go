package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded in the audit trail.
const (
	CandidateCreated   = "PROJECT_CANDIDATE_CREATED"
	ProjectApproved    = "PROJECT_APPROVED"
	ProjectRejected    = "PROJECT_REJECTED"
	TaskScheduled      = "TASK_SCHEDULED"
	TaskRescheduled    = "TASK_RESCHEDULED"
	ProjectUnscheduled = "PROJECT_UNSCHEDULED"
	RanksRenumbered    = "RANKS_RENUMBERED"
	PipelineStage      = "PIPELINE_STAGE"
	ValidationFailed   = "VALIDATION_FAILED"
)

// Agent names stamped on audit rows.
const (
	AgentFormation  = "formation"
	AgentGovernance = "governance"
	AgentScheduling = "scheduling"
	AgentValidator  = "validator"
	AgentPipeline   = "pipeline"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// Append writes one audit row inside the caller's transaction so the entry
// commits or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, eventType, agentName, runID string, payload Payload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(event_type,agent_name,run_id,payload,ts) VALUES (?,?,?,?,?)`,
		eventType, agentName, runID, string(data), ts)
	return err
}
