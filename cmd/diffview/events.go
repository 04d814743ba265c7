package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kandev/diffview/internal/common/config"
	"github.com/kandev/diffview/internal/common/logger"
	"github.com/kandev/diffview/internal/events"
	"github.com/kandev/diffview/internal/events/bus"
	"github.com/kandev/diffview/internal/i18n"
)

func newEventsCmd(opts *rootOptions, tr *i18n.Translator) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "events",
		Short: tr.T("cli.eventsShort"),
	}
	tail := &cobra.Command{
		Use:   "tail",
		Short: tr.T("cli.eventsTailShort"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return errors.New(tr.Tf("errors.configLoad", err))
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runEventsTail(ctx, cfg.NATS, subject, tr, cmd.OutOrStdout(), logger.Default())
		},
	}
	tail.Flags().StringVar(&subject, "subject", events.SubjectAll, "Subject pattern to subscribe to")
	cmd.AddCommand(tail)
	return cmd
}

// runEventsTail prints every event on subject as one JSON line until ctx is done.
func runEventsTail(ctx context.Context, cfg config.NATSConfig, subject string, tr *i18n.Translator, out io.Writer, log *logger.Logger) error {
	if strings.TrimSpace(cfg.URL) == "" {
		return errors.New(tr.T("events.needsNats"))
	}

	eventBus, err := bus.NewNATSEventBus(cfg, log)
	if err != nil {
		return err
	}
	defer eventBus.Close()

	return tailEvents(ctx, eventBus, subject, tr, out)
}

func tailEvents(ctx context.Context, eventBus bus.EventBus, subject string, tr *i18n.Translator, out io.Writer) error {
	var mu sync.Mutex
	sub, err := eventBus.Subscribe(subject, func(_ context.Context, event *bus.Event) error {
		line, err := json.Marshal(event)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = fmt.Fprintln(out, string(line))
		return err
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			logger.Default().Debug("unsubscribe failed", zap.Error(err))
		}
	}()

	mu.Lock()
	fmt.Fprintln(out, tr.Tf("events.tailing", subject))
	mu.Unlock()

	<-ctx.Done()
	return nil
}
