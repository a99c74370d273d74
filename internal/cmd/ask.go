package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"ai-qa-sync/internal/bootstrap"
	"ai-qa-sync/internal/entity"
	"ai-qa-sync/pkg/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <target> <question>",
	Short: "stream an answer from a target's documents",
	Long: `Ask a question about the documents uploaded for a target. The answer is
printed as it streams in; Ctrl-C cancels it and keeps what arrived so far.`,
	Example: `  $ qa ask demo "What is stoichiometry?"`,
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		targetId, question := args[0], strings.Join(args[1:], " ")
		return withContainer(func(ctx context.Context, c *bootstrap.Container) error {
			return runAsk(ctx, c, targetId, question)
		})
	},
}

// answerPrinter writes the growing tail of the answer being streamed.
type answerPrinter struct {
	mu      sync.Mutex
	current uuid.UUID
	printed int
}

func (p *answerPrinter) render(snap store.Snapshot) {
	if len(snap.Messages) == 0 {
		return
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.Role != entity.RoleAssistant {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if last.Id != p.current {
		p.current = last.Id
		p.printed = 0
	}
	if len(last.Content) > p.printed {
		fmt.Fprint(os.Stdout, last.Content[p.printed:])
		p.printed = len(last.Content)
	}
}

func runAsk(ctx context.Context, c *bootstrap.Container, targetId, question string) error {
	conv := c.Chat.Conversation(targetId)
	printer := &answerPrinter{}
	unsubscribe := conv.Subscribe(printer.render)
	defer unsubscribe()

	turn, err := c.Chat.Ask(ctx, targetId, question)
	if err != nil {
		PrintError("%v", err)
		return err
	}

	select {
	case <-turn.Done():
	case <-ctx.Done():
		c.Chat.Cancel(context.Background(), targetId)
		<-turn.Done()
	}
	// A change queued behind another goroutine's delivery may not have
	// reached the printer yet.
	printer.render(conv.Snapshot())
	fmt.Println()

	var answer entity.Message
	for _, m := range conv.Snapshot().Messages {
		if m.Id == turn.MessageId {
			answer = m
		}
	}

	switch {
	case answer.Errored:
		PrintError("answer failed: %s", answer.Error)
		return fmt.Errorf("answer failed")
	case answer.Metadata["cancelled"] == true:
		PrintWarning("cancelled")
		return nil
	}

	for _, src := range answer.Sources {
		if src.Page > 0 {
			PrintDim("  source: %s (p. %d)", src.Title, src.Page)
		} else {
			PrintDim("  source: %s", src.Title)
		}
	}
	if answer.Cached {
		PrintDim("  (cached answer)")
	}
	return nil
}
