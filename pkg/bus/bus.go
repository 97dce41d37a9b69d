// Package bus decouples the webhook gateway from the pipeline workers with
// bounded in-process channels.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/kkhouse/wecopilot/pkg/envelope"
)

// Job is one decoded inbound message queued for processing.
type Job struct {
	Envelope      *envelope.Envelope
	CorrelationID string
	EnqueuedAt    time.Time
}

// ResultNotice tells the push hub a result landed in a mailbox slot.
type ResultNotice struct {
	AgentID    string
	CustomerID string
	MailboxKey string
}

// MessageBus carries jobs gateway-to-workers and notices workers-to-hub.
// Both channels are bounded; a full job queue rejects instead of blocking the
// webhook handler.
type MessageBus struct {
	jobs    chan Job
	notices chan ResultNotice
}

func NewMessageBus(queueSize int) *MessageBus {
	return &MessageBus{
		jobs:    make(chan Job, queueSize),
		notices: make(chan ResultNotice, queueSize),
	}
}

// PublishJob enqueues without blocking; a full queue is an error the caller
// surfaces (the platform will redeliver the callback).
func (b *MessageBus) PublishJob(job Job) error {
	select {
	case b.jobs <- job:
		return nil
	default:
		return fmt.Errorf("bus: job queue full (%d)", cap(b.jobs))
	}
}

// ConsumeJob blocks until a job arrives or ctx is cancelled. The second
// return is false on cancellation.
func (b *MessageBus) ConsumeJob(ctx context.Context) (Job, bool) {
	select {
	case <-ctx.Done():
		return Job{}, false
	case job := <-b.jobs:
		return job, true
	}
}

// PublishNotice drops the notice if the channel is full; the mailbox slot
// still holds the result for pull-based readers.
func (b *MessageBus) PublishNotice(n ResultNotice) {
	select {
	case b.notices <- n:
	default:
	}
}

func (b *MessageBus) ConsumeNotice(ctx context.Context) (ResultNotice, bool) {
	select {
	case <-ctx.Done():
		return ResultNotice{}, false
	case n := <-b.notices:
		return n, true
	}
}

// QueueDepth reports how many jobs are waiting.
func (b *MessageBus) QueueDepth() int {
	return len(b.jobs)
}
