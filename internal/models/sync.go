package models

import "time"

// SessionToken is a successful exchange result: the bearer token read back
// from the authenticated browser session.
type SessionToken struct {
	Value      string    `json:"-"`
	Expires    time.Time `json:"expires,omitempty"`
	ObtainedAt time.Time `json:"obtained_at"`
}

// SessionState is the result of a login check without a full sync
type SessionState struct {
	LoggedIn  bool      `json:"logged_in"`
	HasToken  bool      `json:"has_token"`
	CheckedAt time.Time `json:"checked_at"`
}

// PushResult is the downstream consumer's acknowledgment
type PushResult struct {
	Message  string `json:"message,omitempty"`
	Email    string `json:"email,omitempty"`
	Attempts int    `json:"attempts"`
}

// SyncAttempt tracks one in-flight sync through the executor. It lives for
// the duration of the task only; outcomes land on the profile's summary
// fields, never on a record of their own.
type SyncAttempt struct {
	ProfileID string
	Attempt   int
	StartedAt time.Time
	Outcome   string
}

// TriggerAck is one entry of a sync-all response: either the profile was
// claimed and queued, or the reason it was skipped.
type TriggerAck struct {
	ProfileID string `json:"profile_id"`
	Name      string `json:"name"`
	Queued    bool   `json:"queued"`
	Reason    string `json:"reason,omitempty"`
}

// EngineStatus is the operator-facing snapshot of the scheduler
type EngineStatus struct {
	Running         bool                  `json:"running"`
	NextTick        *time.Time            `json:"next_tick,omitempty"`
	Workers         int                   `json:"workers"`
	QueueDepth      int                   `json:"queue_depth"`
	TotalSyncs      int64                 `json:"total_syncs"`
	TotalErrors     int64                 `json:"total_errors"`
	LastBatchAt     *time.Time            `json:"last_batch_at,omitempty"`
	LastBatchSize   int                   `json:"last_batch_size"`
	ProfilesByState map[ProfileStatus]int `json:"profiles_by_state,omitempty"`
}
