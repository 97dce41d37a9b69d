package bus

import (
	"context"
	"testing"
	"time"

	"github.com/kkhouse/wecopilot/pkg/envelope"
)

func TestPublishConsumeJob(t *testing.T) {
	b := NewMessageBus(4)
	env := &envelope.Envelope{SenderID: "cust", Kind: envelope.KindText, Body: "hi"}
	if err := b.PublishJob(Job{Envelope: env, CorrelationID: "c1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	job, ok := b.ConsumeJob(context.Background())
	if !ok {
		t.Fatal("consume returned not-ok")
	}
	if job.Envelope.Body != "hi" || job.CorrelationID != "c1" {
		t.Fatalf("job = %+v", job)
	}
}

func TestPublishJobFullQueueErrors(t *testing.T) {
	b := NewMessageBus(1)
	if err := b.PublishJob(Job{}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := b.PublishJob(Job{}); err == nil {
		t.Fatal("expected error on full queue")
	}
}

func TestConsumeJobCancelled(t *testing.T) {
	b := NewMessageBus(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := b.ConsumeJob(ctx); ok {
		t.Fatal("consume should report not-ok after cancel")
	}
}

func TestNoticeDroppedWhenFull(t *testing.T) {
	b := NewMessageBus(1)
	b.PublishNotice(ResultNotice{MailboxKey: "k1"})
	b.PublishNotice(ResultNotice{MailboxKey: "k2"}) // dropped, must not block

	n, ok := b.ConsumeNotice(context.Background())
	if !ok || n.MailboxKey != "k1" {
		t.Fatalf("notice = (%+v, %v)", n, ok)
	}
}
