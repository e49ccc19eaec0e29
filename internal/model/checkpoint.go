package model

import "time"

// Checkpoint marks a safe restart frontier for one phase of one batch run.
// Payloads are kept small (spec §9): a user_id frontier plus phase-local
// counters, not a full snapshot of in-flight state.
type Checkpoint struct {
	BatchID string
	Phase   Phase
	At      time.Time
	Payload []byte
}

// MatchingCheckpointPayload is the structure encoded into Checkpoint.Payload
// for the MATCHING phase: the highest user_id durably persisted, plus
// phase-local counters needed to resume without re-scoring it.
type MatchingCheckpointPayload struct {
	FrontierUserID int64 `json:"frontier_user_id"`
	UsersProcessed int64 `json:"users_processed"`
	UsersFailed    int64 `json:"users_failed"`
}

// Alert is the structured record the observability core raises on threshold
// breach; delivery to SMTP/webhook/chat is an external collaborator.
type Alert struct {
	BatchID   string
	Severity  AlertSeverity
	Message   string
	Timestamp time.Time
}

// AlertSeverity is the outbound alert contract's severity enum.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MED"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)
