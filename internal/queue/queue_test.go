package queue

import (
	"testing"
	"time"
)

func TestDLQName(t *testing.T) {
	if got := DLQName(JobsQueueName); got != "dlq.batch.jobs" {
		t.Fatalf("DLQName = %s, want dlq.batch.jobs", got)
	}
}

func TestJobMessageValidate(t *testing.T) {
	valid := JobMessage{
		JobID:      42,
		Name:       "Push_Documents_To_Cancer.Gov",
		Command:    "cdrpush",
		Event:      EventJobQueued,
		OccurredAt: time.Now().UTC(),
	}

	tests := []struct {
		name    string
		mutate  func(m JobMessage) JobMessage
		wantErr bool
	}{
		{name: "valid", mutate: func(m JobMessage) JobMessage { return m }},
		{name: "zero job id", mutate: func(m JobMessage) JobMessage { m.JobID = 0; return m }, wantErr: true},
		{name: "blank name", mutate: func(m JobMessage) JobMessage { m.Name = "  "; return m }, wantErr: true},
		{name: "unknown event", mutate: func(m JobMessage) JobMessage { m.Event = "paused"; return m }, wantErr: true},
		{name: "completed event", mutate: func(m JobMessage) JobMessage { m.Event = EventJobCompleted; return m }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.mutate(valid).Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %t", err, tc.wantErr)
			}
		})
	}
}
