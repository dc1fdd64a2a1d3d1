package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/internal/stream"
)

var (
	recoverResume      bool
	recoverLimit       int
	recoverPurgeOlder  time.Duration
	recoverIncludeDone bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Find and resume interrupted conversations",
	Long: `List conversations whose plan still has unanswered sub-questions,
typically because a run was cancelled or crashed.

With --resume each interrupted conversation is resumed in turn. With
--purge-older-than checkpoints not updated within the given duration are
removed first. Requires the sqlite checkpoint backend.`,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().BoolVar(&recoverResume, "resume", false, "Resume every interrupted conversation")
	recoverCmd.Flags().IntVar(&recoverLimit, "limit", 20, "Maximum conversations to list")
	recoverCmd.Flags().DurationVar(&recoverPurgeOlder, "purge-older-than", 0, "Remove checkpoints idle longer than this (e.g. 720h)")
	recoverCmd.Flags().BoolVar(&recoverIncludeDone, "all", false, "List finished conversations too")
}

func runRecover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Checkpoint.Backend != "sqlite" {
		return fmt.Errorf("recover requires the sqlite checkpoint backend, got %s", cfg.Checkpoint.Backend)
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

	db, ok := a.store.(*state.DB)
	if !ok {
		return errors.New("checkpoint store does not support listing")
	}

	out := cmd.OutOrStdout()
	if recoverPurgeOlder > 0 {
		n, err := db.PurgeConversations(ctx, recoverPurgeOlder)
		if err != nil {
			return err
		}
		printStatus(out, "✓", fmt.Sprintf("Purged %d conversation(s) idle longer than %s", n, recoverPurgeOlder), color.FgGreen)
	}

	convs, err := db.ListConversations(ctx, !recoverIncludeDone, recoverLimit)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(out, "No interrupted conversations.")
		return nil
	}

	for _, c := range convs {
		symbol, attr := "✓", color.FgGreen
		if c.Interrupted() {
			symbol, attr = "⚠", color.FgYellow
		}
		printStatus(out, symbol, fmt.Sprintf("%s  %-40s  pending=%d  rev=%d  %s",
			c.ID, c.Label, c.PendingItems, c.Revision, c.UpdatedAt.Local().Format(time.DateTime)), attr)
	}

	if !recoverResume {
		return nil
	}
	for _, c := range convs {
		if !c.Interrupted() {
			continue
		}
		if err := resumeConversation(ctx, a, c.ID); err != nil {
			printStatus(out, "✗", fmt.Sprintf("%s: %v", c.ID, err), color.FgRed)
			continue
		}
		printStatus(out, "✓", "Resumed "+c.ID, color.FgGreen)
	}
	return nil
}

// resumeConversation drives one empty-query run to completion.
func resumeConversation(ctx context.Context, a *app, id string) error {
	events, err := a.dispatcher.Run(ctx, id, "")
	if err != nil {
		return err
	}
	var runErr error
	for ev := range events {
		if ev.Type == stream.EventError {
			runErr = errors.New(ev.Content)
		}
	}
	if runErr != nil {
		return runErr
	}
	return ctx.Err()
}
