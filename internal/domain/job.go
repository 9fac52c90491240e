package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a batch job.
type JobStatus string

const (
	StatusQueued     JobStatus = "Queued"     // inserted, waiting for the daemon
	StatusInitiating JobStatus = "Initiating" // daemon is starting the job process
	StatusInProcess  JobStatus = "In process" // job came up and announced itself
	StatusSuspend    JobStatus = "Suspend"    // future
	StatusSuspended  JobStatus = "Suspended"  // future
	StatusResume     JobStatus = "Resume"     // future
	StatusStop       JobStatus = "Stop"       // stop cleanly if possible
	StatusStopped    JobStatus = "Stopped"    // job stopped cleanly before end
	StatusCompleted  JobStatus = "Completed"  // job ran to completion
	StatusAborted    JobStatus = "Aborted"    // abnormal termination
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case StatusQueued, StatusInitiating, StatusInProcess, StatusSuspend,
		StatusSuspended, StatusResume, StatusStop, StatusStopped,
		StatusCompleted, StatusAborted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusCompleted, StatusAborted:
		return true
	}
	return false
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.TrimSpace(s))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// ActiveStatuses are the states counted by the advisory liveness check.
func ActiveStatuses() []JobStatus {
	return []JobStatus{StatusQueued, StatusInitiating, StatusInProcess}
}

// Actor identifies which class of process is requesting a transition.
type Actor string

const (
	ActorDaemon     Actor = "daemon"   // the batch service daemon
	ActorExternal   Actor = "extern"   // neither the daemon nor the job itself
	ActorJobProcess Actor = "batchjob" // the running job process
)

func (a Actor) String() string { return string(a) }

func (a Actor) IsValid() bool {
	switch a {
	case ActorDaemon, ActorExternal, ActorJobProcess:
		return true
	}
	return false
}

// allowedByActor lists the statuses each actor class may request. The check
// exists to catch wiring mistakes, not malicious callers.
var allowedByActor = map[Actor][]JobStatus{
	ActorDaemon:     {StatusInitiating},
	ActorExternal:   {StatusStop},
	ActorJobProcess: {StatusInProcess, StatusStopped, StatusCompleted, StatusAborted},
}

// AuthorizeTransition validates that the actor class may request newStatus.
func AuthorizeTransition(actor Actor, newStatus JobStatus) error {
	if !actor.IsValid() {
		return fmt.Errorf("%w: invalid actor class %q", ErrValidation, actor)
	}
	for _, allowed := range allowedByActor[actor] {
		if newStatus == allowed {
			return nil
		}
	}
	return &InvalidTransitionError{Actor: actor, Requested: newStatus}
}

// ValidatePrecedence checks that current legally precedes newStatus.
func ValidatePrecedence(current, newStatus JobStatus) error {
	ok := false
	switch newStatus {
	case StatusInitiating:
		ok = current == StatusQueued
	case StatusInProcess:
		ok = current == StatusInitiating || current == StatusSuspended
	case StatusStop:
		ok = current == StatusInProcess
	case StatusStopped:
		ok = current == StatusInProcess || current == StatusSuspended || current == StatusStop
	case StatusCompleted:
		ok = current == StatusInProcess
	case StatusAborted:
		ok = !current.IsTerminal()
	}
	if !ok {
		return &InvalidTransitionError{Current: current, Requested: newStatus}
	}
	return nil
}

// JobArgs maps argument names to one or more string values.
type JobArgs map[string][]string

// Get returns the single value for a key, or the first of several.
func (a JobArgs) Get(key string) string {
	if vals, found := a[key]; found && len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// BatchJob is the persistent record of one queued unit of batch work.
type BatchJob struct {
	ID       int64
	Name     string
	Command  string
	Args     JobArgs
	Email    string
	Status   JobStatus
	Progress string
	Started  time.Time
	StatusAt time.Time
}

func (j *BatchJob) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("%w: every batch job must have a name", ErrValidation)
	}
	if strings.TrimSpace(j.Command) == "" {
		return fmt.Errorf("%w: every batch job must have a command", ErrValidation)
	}
	for key := range j.Args {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w: job argument name must not be empty", ErrValidation)
		}
	}
	return nil
}

// EmailList splits the owner email column on space, comma, or semicolon.
func (j *BatchJob) EmailList() []string {
	normalized := strings.NewReplacer(",", " ", ";", " ").Replace(j.Email)
	return strings.Fields(normalized)
}
