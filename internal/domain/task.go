package domain

import (
	"strconv"
	"time"
)

// TaskType selects which executor handles one task request.
type TaskType string

const (
	// TaskRuleCheck evaluates one alert rule and reconciles current alerts.
	TaskRuleCheck TaskType = "rule_check"
	// TaskAlertListRefresh rebuilds the visible alert list (no target).
	TaskAlertListRefresh TaskType = "alert_list_refresh"
	// TaskStatRefresh fetches one stat config and annotates deltas.
	TaskStatRefresh TaskType = "stat_refresh"
)

// Priority bands. Lower value is more urgent.
const (
	PriorityMin        = 1
	PriorityUser       = 1
	PriorityUserMax    = 3
	PriorityPeriodic   = 4
	PriorityNormal     = 5
	PriorityBackground = 7
	PriorityMax        = 10
)

// Source tags used by built-in submitters.
const (
	SourceTimer   = "timer"
	SourceStartup = "startup"
	SourceManual  = "manual"
	SourceChained = "chained"
)

// Valid reports whether task type is known.
func (t TaskType) Valid() bool {
	switch t {
	case TaskRuleCheck, TaskAlertListRefresh, TaskStatRefresh:
		return true
	default:
		return false
	}
}

// TaskRequest describes one unit of work for the scheduler.
// Params: type, optional target id, priority, provenance, optional schedule time.
// Returns: immutable request value; identity is Key().
type TaskRequest struct {
	ID          string    `json:"id"`
	Type        TaskType  `json:"type"`
	TargetID    *int64    `json:"target_id,omitempty"`
	Priority    int       `json:"priority"`
	Source      string    `json:"source,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the dedup/timer identity of the request.
func (r TaskRequest) Key() string {
	return TaskKey(r.Type, r.TargetID)
}

// EffectiveTime returns scheduled time when set, creation time otherwise.
func (r TaskRequest) EffectiveTime() time.Time {
	if r.ScheduledAt.IsZero() {
		return r.CreatedAt
	}
	return r.ScheduledAt
}

// TaskKey builds "type:target" identity, or bare type without target.
// Params: task type and optional target id.
// Returns: stable key string.
func TaskKey(taskType TaskType, targetID *int64) string {
	if targetID == nil {
		return string(taskType)
	}
	return string(taskType) + ":" + strconv.FormatInt(*targetID, 10)
}

// Target returns pointer to id for TargetID fields.
func Target(id int64) *int64 {
	return &id
}

// NormalizePriority maps zero to normal priority and clamps into 1..10.
func NormalizePriority(priority int) int {
	switch {
	case priority == 0:
		return PriorityNormal
	case priority < PriorityMin:
		return PriorityMin
	case priority > PriorityMax:
		return PriorityMax
	default:
		return priority
	}
}

// TimerSpec describes periodic re-submission for one task key.
// Params: type, target, interval, optional initial delay and priority override.
// Returns: timer registration payload.
type TimerSpec struct {
	Type         TaskType
	TargetID     *int64
	Interval     time.Duration
	InitialDelay time.Duration
	Priority     int
}

// Key returns timer identity (same scheme as task requests).
func (s TimerSpec) Key() string {
	return TaskKey(s.Type, s.TargetID)
}

// TaskCompletion reports the outcome of one executed request.
type TaskCompletion struct {
	RequestID    string        `json:"request_id"`
	Type         TaskType      `json:"type"`
	TargetID     *int64        `json:"target_id,omitempty"`
	Source       string        `json:"source,omitempty"`
	Success      bool          `json:"success"`
	Data         any           `json:"data,omitempty"`
	ErrorMessage string        `json:"error,omitempty"`
	Permanent    bool          `json:"permanent,omitempty"`
	Duration     time.Duration `json:"duration"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// Key returns task key of the completed request.
func (c TaskCompletion) Key() string {
	return TaskKey(c.Type, c.TargetID)
}
