// Package cli runs the wizards from the command line.
//
// Each subcommand drives one wizard controller end to end against the
// backend: it uploads the file, applies the selection given by flags, starts
// processing and waits for the task to finish. Notifications go to stderr;
// the result goes to stdout.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/core"
	"github.com/JonMunkholm/csvwizard/internal/logging"
	"github.com/JonMunkholm/csvwizard/internal/poller"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

// Connector builds the backend a command runs against. locate turns a
// result locator into a download link.
type Connector func(url string, timeout time.Duration, logger *slog.Logger) (be wizard.Backend, locate func(string) string, err error)

// Connect is the default Connector.
func Connect(url string, timeout time.Duration, logger *slog.Logger) (wizard.Backend, func(string) string, error) {
	c, err := backend.New(url, backend.Options{Timeout: timeout, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return c, c.ResolveLocator, nil
}

// TaskError is a backend task that ended in the error status.
type TaskError struct {
	Stage   wizard.Stage
	Message string
}

func (e *TaskError) Error() string {
	return e.Message
}

type globals struct {
	backendURL   string
	pollInterval time.Duration
	timeout      time.Duration
	logLevel     string
	quiet        bool

	connect Connector
}

// NewRootCmd creates the root command.
func NewRootCmd(connect Connector) *cobra.Command {
	if connect == nil {
		connect = Connect
	}
	g := &globals{connect: connect}

	rootCmd := &cobra.Command{
		Use:           "wizard",
		Short:         "Run the CSV wizards against the processing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.backendURL, "backend", envOr("BACKEND_URL", os.Getenv("WIZARD_BACKEND_URL")), "backend base URL (env BACKEND_URL)")
	flags.DurationVar(&g.pollInterval, "poll-interval", poller.DefaultInterval, "task progress poll interval")
	flags.DurationVar(&g.timeout, "timeout", 2*time.Minute, "timeout for backend JSON calls")
	flags.StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.BoolVarP(&g.quiet, "quiet", "q", false, "do not print notifications")

	rootCmd.AddCommand(
		newTransformCommand(g),
		newExportCommand(g),
		newDedupCommand(g),
	)

	return rootCmd
}

// Execute runs the root command and prints a user-facing error on failure.
// It returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd(nil)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", Describe(err))
		return 1
	}
	return 0
}

// Describe returns the message printed for a failed command.
func Describe(err error) string {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.Message
	}
	if core.IsUserFacing(err) {
		return core.FormatUserError(err)
	}
	return err.Error()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// run holds what one command invocation needs.
type run struct {
	ctx    context.Context
	be     wizard.Backend
	locate func(string) string
	opts   wizard.Options
	out    io.Writer
}

// start connects to the backend and prepares controller options.
func (g *globals) start(cmd *cobra.Command) (*run, error) {
	if g.backendURL == "" {
		return nil, errors.New("no backend URL: set --backend or BACKEND_URL")
	}

	logger := logging.New(cmd.ErrOrStderr(), g.logLevel, "text")
	be, locate, err := g.connect(g.backendURL, g.timeout, logger)
	if err != nil {
		return nil, err
	}

	var notifier wizard.Notifier
	if !g.quiet {
		errOut := cmd.ErrOrStderr()
		notifier = wizard.NotifierFunc(func(n wizard.Notification) {
			fmt.Fprintf(errOut, "[%s] %s\n", n.Level, n.Message)
		})
	}

	return &run{
		ctx:    cmd.Context(),
		be:     be,
		locate: locate,
		opts: wizard.Options{
			PollInterval: g.pollInterval,
			Notifier:     notifier,
			Logger:       logger,
		},
		out: cmd.OutOrStdout(),
	}, nil
}

// outcomes collects task outcomes published by a controller. Subscribe
// before the action that starts the task so none is missed.
type outcomes struct {
	ch      chan wizard.Outcome
	dispose func()
}

func watchOutcomes(c wizard.Controller) *outcomes {
	o := &outcomes{ch: make(chan wizard.Outcome, 4)}
	o.dispose = c.Subscribe(func(ev wizard.Event) {
		if ev.Outcome == nil {
			return
		}
		select {
		case o.ch <- *ev.Outcome:
		default:
		}
	})
	return o
}

// await blocks until a task of the given stage finishes.
func (o *outcomes) await(ctx context.Context, stage wizard.Stage) (wizard.Outcome, error) {
	for {
		select {
		case <-ctx.Done():
			return wizard.Outcome{}, ctx.Err()
		case out := <-o.ch:
			if out.Stage != stage {
				continue
			}
			if out.Status != poller.StatusComplete {
				return out, &TaskError{Stage: stage, Message: out.Error}
			}
			return out, nil
		}
	}
}

// printResult writes the finished task to stdout.
func (r *run) printResult(out wizard.Outcome, invalid string) {
	fmt.Fprintf(r.out, "result: %s\n", r.locate(out.Result))
	if invalid != "" {
		fmt.Fprintf(r.out, "invalid rows: %s\n", r.locate(invalid))
	}
	if out.ProcessedRows != nil {
		fmt.Fprintf(r.out, "rows processed: %d\n", *out.ProcessedRows)
	}
	if out.Stats != nil {
		printStats(r.out, out.Stats)
	}
}

func printStats(w io.Writer, s *backend.Stats) {
	fmt.Fprintf(w, "total: %d\nunique: %d\nduplicates: %d\ninvalid: %d\n",
		s.TotalRaw, s.TotalUnique, s.Duplicates, s.Invalid)
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
