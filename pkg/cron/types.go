package cron

import (
	"context"
	"time"
)

// ScheduleKind represents the type of schedule
type ScheduleKind string

const (
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule represents a time specification for job execution
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// For "every" schedule
	Every time.Duration `json:"every,omitempty"`

	// For "cron" schedule
	Expr string `json:"expr,omitempty"` // Cron expression (5-field format or descriptor)
	TZ   string `json:"tz,omitempty"`   // Optional timezone
}

// JobFunc is the work a job performs on every run
type JobFunc func(ctx context.Context) error

// JobState tracks runtime state of a job
type JobState struct {
	NextRunAt         time.Time     `json:"nextRunAt"`
	LastRunAt         time.Time     `json:"lastRunAt,omitempty"`
	LastStatus        string        `json:"lastStatus,omitempty"` // "ok" or "error"
	LastError         string        `json:"lastError,omitempty"`
	LastDuration      time.Duration `json:"lastDuration,omitempty"`
	ConsecutiveErrors int           `json:"consecutiveErrors,omitempty"`
	running           bool
}

// Job is a named piece of recurring work
type Job struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Schedule Schedule `json:"schedule"`
	State    JobState `json:"state"`
	run      JobFunc
}

// Job status values
const (
	StatusOK    = "ok"
	StatusError = "error"
)
