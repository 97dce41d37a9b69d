package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kkhouse/wecopilot/pkg/bus"
	"github.com/kkhouse/wecopilot/pkg/config"
	"github.com/kkhouse/wecopilot/pkg/convstore"
	"github.com/kkhouse/wecopilot/pkg/envelope"
	"github.com/kkhouse/wecopilot/pkg/knowledge"
	"github.com/kkhouse/wecopilot/pkg/logger"
)

// KnowledgeSearcher is the retrieval dependency; failures degrade the result
// instead of failing the unit.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]knowledge.Passage, error)
}

// SuggestionGenerator is the LLM dependency; same degradation contract.
type SuggestionGenerator interface {
	Generate(ctx context.Context, query string, history []convstore.Turn, passages []knowledge.Passage) ([]string, error)
}

// Worker consumes jobs from the bus and runs each through the processing
// unit. Store failures retry the whole unit with linear backoff; enrichment
// failures never do.
type Worker struct {
	cfg       *config.Config
	store     convstore.Store
	bus       *bus.MessageBus
	searcher  KnowledgeSearcher
	generator SuggestionGenerator
}

func NewWorker(cfg *config.Config, store convstore.Store, mb *bus.MessageBus, searcher KnowledgeSearcher, generator SuggestionGenerator) *Worker {
	return &Worker{
		cfg:       cfg,
		store:     store,
		bus:       mb,
		searcher:  searcher,
		generator: generator,
	}
}

// Run starts the configured number of consumers and blocks until ctx is
// cancelled and they drain.
func (w *Worker) Run(ctx context.Context) {
	n := w.cfg.Pipeline.Workers
	if n < 1 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				job, ok := w.bus.ConsumeJob(ctx)
				if !ok {
					return
				}
				w.handle(ctx, job)
			}
		}(i)
	}
	wg.Wait()
}

// handle runs one job to completion within the pipeline budget, retrying the
// whole unit on store errors with base*attempt backoff.
func (w *Worker) handle(ctx context.Context, job bus.Job) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.PipelineBudget())
	defer cancel()

	maxAttempts := w.cfg.Pipeline.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = w.process(ctx, job)
		if err == nil {
			return
		}
		logger.WarnCF("pipeline", "Processing attempt failed",
			map[string]interface{}{
				"correlation_id": job.CorrelationID,
				"msg_id":         job.Envelope.MsgID,
				"attempt":        attempt,
				"error":          err.Error(),
			})
		if attempt == maxAttempts {
			break
		}
		backoff := w.cfg.RetryBase() * time.Duration(attempt)
		select {
		case <-ctx.Done():
			logger.ErrorCF("pipeline", "Budget exhausted during backoff, abandoning",
				map[string]interface{}{
					"correlation_id": job.CorrelationID,
					"msg_id":         job.Envelope.MsgID,
					"attempt":        attempt,
				})
			w.publishFailure(job, fmt.Errorf("budget exhausted after attempt %d: %w", attempt, err))
			return
		case <-time.After(backoff):
		}
	}

	logger.ErrorCF("pipeline", "Message dropped after retries exhausted",
		map[string]interface{}{
			"correlation_id": job.CorrelationID,
			"msg_id":         job.Envelope.MsgID,
			"attempts":       maxAttempts,
			"error":          err.Error(),
		})
	w.publishFailure(job, err)
}

// publishSkipped writes the short-circuit result for an ineligible message.
// No context write, no remote calls; the mailbox slot is the only effect.
func (w *Worker) publishSkipped(ctx context.Context, job bus.Job) error {
	env := job.Envelope
	key := convstore.Key{AgentID: env.RecipientID, CustomerID: env.SenderID}
	payload, err := json.Marshal(SuggestionResult{
		SessionID:        fmt.Sprintf("%s:%s", env.RecipientID, env.SenderID),
		CustomerID:       env.SenderID,
		AgentID:          env.RecipientID,
		Suggestions:      []string{},
		KnowledgeResults: []knowledge.Passage{},
		Timestamp:        env.CreatedAt,
		Skipped:          true,
		Reason:           "non-text message",
	})
	if err != nil {
		return fmt.Errorf("encode skipped result: %w", err)
	}
	mailboxKey := convstore.ResultKey(key, env.MsgID)
	if err := w.store.PublishResult(ctx, mailboxKey, payload, w.cfg.ResultTTL()); err != nil {
		return fmt.Errorf("publish skipped result: %w", err)
	}
	w.bus.PublishNotice(bus.ResultNotice{
		AgentID:    env.RecipientID,
		CustomerID: env.SenderID,
		MailboxKey: mailboxKey,
	})
	return nil
}

// publishFailure writes the terminal error to the mailbox, best effort. The
// store may be the thing that failed; a second failure here is only logged.
func (w *Worker) publishFailure(job bus.Job, cause error) {
	env := job.Envelope
	key := convstore.Key{AgentID: env.RecipientID, CustomerID: env.SenderID}
	payload, err := json.Marshal(SuggestionResult{
		SessionID:  fmt.Sprintf("%s:%s", env.RecipientID, env.SenderID),
		CustomerID: env.SenderID,
		AgentID:    env.RecipientID,
		Timestamp:  env.CreatedAt,
		Error:      cause.Error(),
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.PublishResult(ctx, convstore.ResultKey(key, env.MsgID), payload, w.cfg.ResultTTL()); err != nil {
		logger.ErrorCF("pipeline", "Failed to publish terminal error",
			map[string]interface{}{"msg_id": env.MsgID, "error": err.Error()})
	}
}

// process is one full pass over the unit. Errors are store failures only;
// enrichment problems are absorbed into the result as degradations.
func (w *Worker) process(ctx context.Context, job bus.Job) error {
	env := job.Envelope

	if env.Kind != envelope.KindText {
		logger.InfoCF("pipeline", "Skipping non-text message",
			map[string]interface{}{
				"correlation_id": job.CorrelationID,
				"msg_id":         env.MsgID,
				"kind":           string(env.Kind),
			})
		return w.publishSkipped(ctx, job)
	}

	key := convstore.Key{AgentID: env.RecipientID, CustomerID: env.SenderID}
	turn := convstore.Turn{
		Body:       env.Body,
		IsCustomer: true,
		Kind:       string(env.Kind),
		RecordedAt: time.Unix(env.CreatedAt, 0),
	}
	appended, err := w.store.AppendOnce(ctx, key, env.MsgID, turn)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if !appended {
		logger.DebugCF("pipeline", "Turn already recorded, continuing",
			map[string]interface{}{"msg_id": env.MsgID})
	}

	history, err := w.store.History(ctx, key)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	var degraded []string

	passages, kerr := w.searcher.Search(ctx, env.Body, w.cfg.Knowledge.TopK)
	if kerr != nil {
		logger.WarnCF("pipeline", "Knowledge search failed, degrading",
			map[string]interface{}{
				"correlation_id": job.CorrelationID,
				"error":          kerr.Error(),
			})
		passages = []knowledge.Passage{}
		degraded = append(degraded, DegradedKnowledge)
	}

	suggestions, gerr := w.generator.Generate(ctx, env.Body, history, passages)
	if gerr != nil {
		logger.WarnCF("pipeline", "Suggestion generation failed, degrading",
			map[string]interface{}{
				"correlation_id": job.CorrelationID,
				"error":          gerr.Error(),
			})
		suggestions = []string{}
		degraded = append(degraded, DegradedGeneration)
	}
	if suggestions == nil {
		suggestions = []string{}
	}

	topPassages := passages
	if len(topPassages) > 3 {
		topPassages = topPassages[:3]
	}

	result := SuggestionResult{
		SessionID:        fmt.Sprintf("%s:%s", env.RecipientID, env.SenderID),
		CustomerID:       env.SenderID,
		AgentID:          env.RecipientID,
		CustomerMessage:  env.Body,
		Suggestions:      suggestions,
		KnowledgeResults: topPassages,
		ContextLength:    len(history),
		Timestamp:        env.CreatedAt,
		Degraded:         degraded,
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	mailboxKey := convstore.ResultKey(key, env.MsgID)
	if err := w.store.PublishResult(ctx, mailboxKey, payload, w.cfg.ResultTTL()); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}

	w.bus.PublishNotice(bus.ResultNotice{
		AgentID:    env.RecipientID,
		CustomerID: env.SenderID,
		MailboxKey: mailboxKey,
	})

	logger.InfoCF("pipeline", "Message processed",
		map[string]interface{}{
			"correlation_id": job.CorrelationID,
			"msg_id":         env.MsgID,
			"suggestions":    len(suggestions),
			"degraded":       degraded,
			"context_length": len(history),
		})
	return nil
}
