package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/dispatch"
	"github.com/ShayCichocki/relay/internal/stream"
	"github.com/ShayCichocki/relay/internal/tui"
)

var (
	askConversation string
	askEphemeral    bool
	askQuiet        bool
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Answer a query and stream the result",
	Long: `Decompose the query, run each sub-question through its agent and
stream the combined answer.

With --conversation the query continues an existing conversation. Omitting
the query resumes that conversation's unfinished plan.

Examples:
  relay ask "What is 3*99.8 and who is the PM of India?"
  relay ask -c 3f0c... "and what about 4*99.8?"
  relay ask -c 3f0c...            # resume an interrupted run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "Conversation id to continue or resume")
	askCmd.Flags().BoolVar(&askEphemeral, "ephemeral", false, "Keep state in memory only")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "Show only the final answer, not agent output")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if askEphemeral {
		cfg.Checkpoint.Backend = "memory"
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	query := ""
	if len(args) == 1 {
		query = args[0]
	}

	events, err := a.dispatcher.Run(ctx, askConversation, query)
	switch {
	case errors.Is(err, dispatch.ErrEmptyQuery):
		return errors.New("nothing to resume: pass a query")
	case errors.Is(err, dispatch.ErrConversationBusy):
		return fmt.Errorf("conversation %s is busy", askConversation)
	case err != nil:
		return err
	}

	out := cmd.OutOrStdout()
	renderer := tui.NewRenderer(out, tui.WithAgentTokens(!askQuiet))
	var conversationID string
	for ev := range events {
		if ev.Type == stream.EventConversation {
			conversationID = ev.Content
		}
		renderer.Render(ev)
	}

	usage := a.model.Tracker().Usage()
	logger.Debug("run finished", "conversation", conversationID,
		"input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens,
		"calls", usage.Calls, "cost_usd", fmt.Sprintf("%.4f", a.model.Tracker().Cost()))

	// The run may have been cancelled; read back what was persisted.
	loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := a.store.Load(loadCtx, conversationID)
	if err != nil {
		logger.Debug("could not reload conversation", "conversation", conversationID, "error", err)
	} else if pending := len(st.Plan.Pending); pending > 0 {
		printStatus(out, "⚠", fmt.Sprintf("%d sub-question(s) left; resume with: relay ask -c %s", pending, conversationID), color.FgYellow)
	} else if !askEphemeral {
		printStatus(out, "✓", fmt.Sprintf("%s  %s", conversationID, strings.TrimSpace(st.Label())), color.FgGreen)
	}

	if renderer.Failed() {
		return errors.New("run failed")
	}
	return ctx.Err()
}
