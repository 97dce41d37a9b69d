package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/kkhouse/wecopilot/pkg/bus"
	"github.com/kkhouse/wecopilot/pkg/config"
	"github.com/kkhouse/wecopilot/pkg/convstore"
	"github.com/kkhouse/wecopilot/pkg/envelope"
	"github.com/kkhouse/wecopilot/pkg/pipeline"
)

const (
	consoleAgentID    = "console-agent"
	consoleCustomerID = "console-customer"
)

// runConsole is a local REPL that feeds typed lines through the full
// pipeline as customer messages and prints the resulting suggestions.
// No WeCom credentials needed.
func runConsole(ctx context.Context, cfg *config.Config, store convstore.Store, mb *bus.MessageBus) error {
	rl, err := readline.New("customer> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("wecopilot console: type a customer message, /history, /clear or /quit")
	key := convstore.Key{AgentID: consoleAgentID, CustomerID: consoleCustomerID}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/history":
			printHistory(ctx, store, key)
			continue
		case "/clear":
			if err := store.Clear(ctx, key); err != nil {
				fmt.Printf("clear failed: %v\n", err)
			} else {
				fmt.Println("conversation cleared")
			}
			continue
		}

		msgID := uuid.NewString()
		env := &envelope.Envelope{
			RecipientID: consoleAgentID,
			SenderID:    consoleCustomerID,
			Kind:        envelope.KindText,
			Body:        line,
			MsgID:       msgID,
			CreatedAt:   time.Now().Unix(),
		}
		if err := mb.PublishJob(bus.Job{Envelope: env, CorrelationID: msgID, EnqueuedAt: time.Now()}); err != nil {
			fmt.Printf("enqueue failed: %v\n", err)
			continue
		}

		printResult(ctx, cfg, store, key, msgID)
	}
}

// printResult polls the mailbox until the pipeline lands the result or the
// budget elapses.
func printResult(ctx context.Context, cfg *config.Config, store convstore.Store, key convstore.Key, msgID string) {
	mbKey := convstore.ResultKey(key, msgID)
	deadline := time.Now().Add(cfg.PipelineBudget())

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}

		payload, ok, err := store.TakeResult(ctx, mbKey)
		if err != nil {
			fmt.Printf("mailbox error: %v\n", err)
			return
		}
		if !ok {
			continue
		}

		var result pipeline.SuggestionResult
		if err := json.Unmarshal(payload, &result); err != nil {
			fmt.Printf("bad result payload: %v\n", err)
			return
		}
		if result.Error != "" {
			fmt.Printf("processing failed: %s\n", result.Error)
			return
		}
		if len(result.Suggestions) == 0 {
			fmt.Printf("no suggestions (degraded: %v)\n", result.Degraded)
			return
		}
		for i, s := range result.Suggestions {
			fmt.Printf("  建议%d: %s\n", i+1, s)
		}
		if len(result.Degraded) > 0 {
			fmt.Printf("  (degraded: %v)\n", result.Degraded)
		}
		return
	}
	fmt.Println("timed out waiting for result")
}

func printHistory(ctx context.Context, store convstore.Store, key convstore.Key) {
	turns, err := store.History(ctx, key)
	if err != nil {
		fmt.Printf("history failed: %v\n", err)
		return
	}
	if len(turns) == 0 {
		fmt.Println("(empty)")
		return
	}
	for _, turn := range turns {
		role := "客服"
		if turn.IsCustomer {
			role = "客户"
		}
		fmt.Printf("  [%s] %s: %s\n", turn.RecordedAt.Format("15:04:05"), role, turn.Body)
	}
}
