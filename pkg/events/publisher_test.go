package events

import (
	"context"
	"testing"
	"time"

	"docgen/pkg/domain"
)

func TestJobEventFromCompletedJob(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := JobEventFrom(domain.Job{
		ID:           "job-1",
		UploadID:     "up-1",
		Status:       domain.JobCompleted,
		Provider:     "gemini",
		ModelUsed:    "gemini-2.5-flash",
		ArtifactSize: 2048,
		UpdatedAt:    at,
	})
	if ev.Type != TypeJobCompleted {
		t.Fatalf("type = %q, want %q", ev.Type, TypeJobCompleted)
	}
	if ev.RoutingKey() != "docgen.job.completed" {
		t.Fatalf("routing key = %q, want docgen.job.completed", ev.RoutingKey())
	}
	if ev.Error != nil {
		t.Fatalf("error = %+v, want nil", ev.Error)
	}
	if !ev.OccurredAt.Equal(at) {
		t.Fatalf("occurredAt = %v, want %v", ev.OccurredAt, at)
	}
}

func TestJobEventFromFailedJobCopiesFailure(t *testing.T) {
	failure := &domain.Failure{Code: "rate_limited", Message: "slow down", Retryable: true}
	ev := JobEventFrom(domain.Job{ID: "job-2", Status: domain.JobFailed, Error: failure})
	if ev.Type != TypeJobFailed {
		t.Fatalf("type = %q, want %q", ev.Type, TypeJobFailed)
	}
	if ev.Error == nil || ev.Error.Code != "rate_limited" || !ev.Error.Retryable {
		t.Fatalf("error = %+v, want rate_limited retryable", ev.Error)
	}
	failure.Code = "mutated"
	if ev.Error.Code != "rate_limited" {
		t.Fatalf("event shares failure with job")
	}
}

func TestNewAMQPPublisherRequiresURL(t *testing.T) {
	if _, err := NewAMQPPublisher("  ", "docgen.events"); err == nil {
		t.Fatalf("expected error for empty amqp url")
	}
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	if err := p.Publish(context.Background(), JobEvent{Type: TypeJobCompleted}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
