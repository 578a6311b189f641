package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/session"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/stream"
	logx "github.com/Chative-core-poc-v1/advisor/pkg/logger"
)

var (
	verbose   bool
	follow    bool
	mergeMode string

	cfg AppConfig

	rootCmd = &cobra.Command{
		Use:          "advisor",
		Short:        "Ask regulatory questions and get complete, merged answers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = loadConfig(); err != nil {
				return err
			}
			logx.Init(logx.LoggerOpts{Environment: cfg.Environment, Quiet: !verbose})
			if mergeMode != "" {
				cfg.Orchestrator.MergeMode = model.MergeMode(mergeMode)
			}
			return nil
		},
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session (/retry, /continue, /quit)",
		RunE:  runChat,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level to stderr")
	rootCmd.PersistentFlags().StringVar(&mergeMode, "merge-mode", "", "how continuation batches are joined (seamless or labeled)")
	askCmd.Flags().BoolVar(&follow, "follow", false, "accept every continuation offer until the answer is complete")

	rootCmd.AddCommand(askCmd, chatCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	events, unsubscribe := a.session.Subscribe()
	defer unsubscribe()

	id, err := a.session.SubmitQuery(strings.Join(args, " "))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for {
		last, err := render(ctx, events, id, out, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if last.Kind != stream.KindOffer {
			return last.Err
		}
		if !follow {
			fmt.Fprintln(out, "\n(answer incomplete; rerun with --follow or use the chat command to continue)")
			return nil
		}
		if err := a.session.ContinueBatch(); err != nil {
			return err
		}
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	events, unsubscribe := a.session.Subscribe()
	defer unsubscribe()

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		var id uint64
		switch {
		case line == "":
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/continue":
			if err = a.session.ContinueBatch(); err == nil {
				id = a.session.Snapshot().QueryID
			}
		case line == "/retry":
			id, err = a.session.RetryLastQuery()
		default:
			id, err = a.session.SubmitQuery(line)
		}

		if err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
		} else if id != 0 {
			last, rerr := render(ctx, events, id, out, errOut)
			if rerr != nil {
				return rerr
			}
			if last.Kind == stream.KindOffer {
				fmt.Fprintln(out, "\n(answer incomplete; type /continue for the next part)")
			}
		}
		err = nil
		fmt.Fprint(out, "\n> ")
	}
	return scanner.Err()
}

// render streams the events of query id until it completes, fails or offers
// a continuation, and returns that last event.
func render(ctx context.Context, events <-chan stream.Event, id uint64, out, status io.Writer) (stream.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return stream.Event{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return stream.Event{}, session.ErrClosed
			}
			if ev.QueryID != id {
				continue
			}
			switch ev.Kind {
			case stream.KindPhase:
				if verbose && ev.Workflow != nil {
					fmt.Fprintf(status, "[%3d%%] %s\n", ev.Workflow.Progress, ev.Workflow.CurrentMessage)
				}
			case stream.KindDelta:
				fmt.Fprint(out, ev.Delta)
			case stream.KindError:
				fmt.Fprintln(out)
				return ev, nil
			case stream.KindComplete, stream.KindOffer:
				fmt.Fprintln(out)
				for _, w := range ev.Warnings {
					fmt.Fprintf(status, "warning: %s\n", w)
				}
				return ev, nil
			}
		}
	}
}
