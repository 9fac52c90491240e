package queue

import (
	"fmt"
	"strings"
	"time"
)

// JobEvent names a batch job lifecycle moment.
type JobEvent string

const (
	EventJobQueued    JobEvent = "queued"
	EventJobCompleted JobEvent = "completed"
	EventJobAborted   JobEvent = "aborted"
)

func (e JobEvent) IsValid() bool {
	switch e {
	case EventJobQueued, EventJobCompleted, EventJobAborted:
		return true
	}
	return false
}

// JobMessage is the wire form of a job lifecycle event.
type JobMessage struct {
	JobID         int64     `json:"jobId"`
	Name          string    `json:"name"`
	Command       string    `json:"command"`
	Event         JobEvent  `json:"event"`
	CorrelationID string    `json:"correlationId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

func (m JobMessage) Validate() error {
	if m.JobID <= 0 {
		return fmt.Errorf("job id must be positive")
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("job name is required")
	}
	if !m.Event.IsValid() {
		return fmt.Errorf("unknown job event %q", m.Event)
	}
	return nil
}
