// File: cmd/run.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/agent"
	"github.com/xkilldash9x/pilot-cli/internal/browser"
	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/executor"
	"github.com/xkilldash9x/pilot-cli/internal/livecache"
	"github.com/xkilldash9x/pilot-cli/internal/llmclient"
	"github.com/xkilldash9x/pilot-cli/internal/metrics"
	"github.com/xkilldash9x/pilot-cli/internal/observability"
	"github.com/xkilldash9x/pilot-cli/internal/reasoning"
	"github.com/xkilldash9x/pilot-cli/internal/safety"
	"github.com/xkilldash9x/pilot-cli/internal/store"
)

const shutdownTimeout = 30 * time.Second

type runOptions struct {
	objective    string
	url          string
	mode         string
	workspace    string
	user         string
	pollInterval time.Duration
	autoConfirm  bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run [objective]",
		Short: "Run an agent session toward an objective",
		Long: `Creates a session, starts it and follows its live view until it finishes.
Actions the reasoning engine flags as sensitive are confirmed on stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if opts.objective != "" {
					return errors.New("objective given both as an argument and with --objective")
				}
				opts.objective = args[0]
			}
			if strings.TrimSpace(opts.objective) == "" {
				return errors.New("an objective is required")
			}

			components, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			// Session commands must outlive the interrupt that cancels ctx.
			cmdCtx := context.WithoutCancel(ctx)
			id, err := components.Service.CreateSession(cmdCtx, agent.CreateSessionRequest{
				WorkspaceID: opts.workspace,
				UserID:      opts.user,
				Objective:   opts.objective,
				StartURL:    opts.url,
				Mode:        schemas.AgentMode(opts.mode),
			})
			if err != nil {
				return err
			}
			if err := components.Service.Start(cmdCtx, id); err != nil {
				return fmt.Errorf("failed to start session: %w", err)
			}

			f := &follower{
				ctrl:        components.Service,
				interval:    opts.pollInterval,
				autoConfirm: opts.autoConfirm,
				in:          cmd.InOrStdin(),
				out:         cmd.OutOrStdout(),
				logger:      logger,
			}
			return f.follow(ctx, id)
		},
	}

	runCmd.Flags().StringVarP(&opts.objective, "objective", "o", "", "What the agent should accomplish")
	runCmd.Flags().StringVarP(&opts.url, "url", "u", "", "URL to open before the first reasoning turn")
	runCmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Agent mode: 'planning' or 'vision' (default from config)")
	runCmd.Flags().StringVar(&opts.workspace, "workspace", "default", "Workspace the session belongs to")
	runCmd.Flags().StringVar(&opts.user, "user", "", "User the session runs on behalf of")
	runCmd.Flags().Int("max-turns", 0, "Maximum reasoning turns (default from config)")
	runCmd.Flags().Bool("headless", true, "Run the browser without a window")
	runCmd.Flags().Bool("metrics", false, "Serve Prometheus metrics while the session runs")
	runCmd.Flags().String("metrics-addr", "", "Address for the metrics endpoint (default from config)")
	runCmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", time.Second, "How often the live view is polled")
	runCmd.Flags().BoolVarP(&opts.autoConfirm, "yes", "y", false, "Confirm every sensitive action without prompting")

	return runCmd
}

// components holds everything a run needs and knows how to tear it down.
type components struct {
	Service *agent.Service

	store         schemas.Store
	mirror        *livecache.Mirror
	browsers      *browser.Manager
	metricsServer *http.Server
	logger        *zap.Logger

	mu      sync.Mutex
	clients []io.Closer
}

// initializeComponents wires the store, optional mirror and metrics, the browser
// manager and the executor behind an agent service.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{logger: logger}

	if cfg.Database.URL != "" {
		pg, err := store.Open(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		c.store = pg
	} else {
		logger.Info("No database configured; session records are kept in memory.")
		c.store = store.NewMemoryStore()
	}

	var opts []agent.Option
	if cfg.Redis.Enabled {
		mirror, err := livecache.New(cfg.Redis, logger)
		if err != nil {
			c.Shutdown()
			return nil, fmt.Errorf("failed to connect live view mirror: %w", err)
		}
		c.mirror = mirror
		opts = append(opts, agent.WithLiveMirror(mirror))
	}

	var execOpts []executor.Option
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(cfg.Metrics.Namespace)
		c.serveMetrics(cfg.Metrics.Addr, collector.Handler())
		opts = append(opts, agent.WithRecorder(collector))
		execOpts = append(execOpts, executor.WithObserver(collector))
	}

	validator, err := safety.NewValidator(cfg.Safety)
	if err != nil {
		c.Shutdown()
		return nil, fmt.Errorf("failed to build url validator: %w", err)
	}

	c.browsers = browser.NewManager(cfg.Browser, logger)
	engine := executor.New(c.browsers, validator, cfg.Executor, logger, execOpts...)
	opts = append(opts, agent.WithURLValidator(validator))
	c.Service = agent.NewService(cfg.Agent, c.browsers, engine, c.adapterFactory(ctx, cfg), c.store, logger, opts...)
	return c, nil
}

// adapterFactory builds reasoning clients on demand, so a vision run never needs
// planner credentials and the reverse.
func (c *components) adapterFactory(ctx context.Context, cfg *config.Config) agent.AdapterFactory {
	return func(mode schemas.AgentMode) (reasoning.Adapter, error) {
		switch mode {
		case schemas.ModePlanning:
			router, err := llmclient.NewRouterFromConfig(ctx, cfg.LLM, c.logger)
			if err != nil {
				return nil, err
			}
			c.track(router)
			return reasoning.NewPlanner(router, c.logger), nil
		case schemas.ModeVision:
			client, err := llmclient.NewVisionClient(ctx, visionModelConfig(cfg), c.logger,
				llmclient.WithLimiter(llmclient.NewLimiter(cfg.LLM.RequestsPerMinute)))
			if err != nil {
				return nil, err
			}
			c.track(client)
			return reasoning.NewVisionLoop(client, cfg.Reasoning, c.logger), nil
		default:
			return nil, fmt.Errorf("unsupported agent mode '%s'", mode)
		}
	}
}

// visionModelConfig describes the computer-use model. It borrows the API key and
// timeout of the first configured Gemini model.
func visionModelConfig(cfg *config.Config) config.LLMModelConfig {
	mc := config.LLMModelConfig{
		Provider:   config.ProviderGemini,
		Model:      cfg.Reasoning.ComputerUseModel,
		APITimeout: 120 * time.Second,
	}
	for _, name := range []string{cfg.LLM.DefaultPowerfulModel, cfg.LLM.DefaultFastModel} {
		m, ok := cfg.LLM.Models[name]
		if !ok || m.Provider != config.ProviderGemini {
			continue
		}
		mc.APIKey = m.APIKey
		mc.Endpoint = m.Endpoint
		if m.APITimeout > 0 {
			mc.APITimeout = m.APITimeout
		}
		break
	}
	return mc
}

func (c *components) track(closer io.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients = append(c.clients, closer)
}

func (c *components) serveMetrics(addr string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	c.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		c.logger.Info("Serving metrics.", zap.String("addr", addr))
		if err := c.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Metrics server failed.", zap.Error(err))
		}
	}()
}

// Shutdown stops sessions first, then the browsers, then everything they wrote to.
func (c *components) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if c.Service != nil {
		if err := c.Service.Shutdown(ctx); err != nil {
			c.logger.Warn("Agent service did not stop cleanly.", zap.Error(err))
		}
	}
	if c.browsers != nil {
		if err := c.browsers.Shutdown(ctx); err != nil {
			c.logger.Warn("Browser manager did not stop cleanly.", zap.Error(err))
		}
	}

	c.mu.Lock()
	clients := c.clients
	c.clients = nil
	c.mu.Unlock()
	for _, client := range clients {
		if err := client.Close(); err != nil {
			c.logger.Warn("Failed to close reasoning client.", zap.Error(err))
		}
	}

	if c.mirror != nil {
		if err := c.mirror.Close(); err != nil {
			c.logger.Warn("Failed to close live view mirror.", zap.Error(err))
		}
	}
	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			c.logger.Warn("Failed to stop metrics server.", zap.Error(err))
		}
	}
	if c.store != nil {
		c.store.Close()
	}
}

// sessionController is the slice of the agent service the follower drives.
type sessionController interface {
	LiveView(id string) (schemas.LiveView, error)
	Session(id string) (schemas.AgentSession, error)
	Done(id string) (<-chan struct{}, error)
	Confirm(ctx context.Context, id string) error
	Deny(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
}

// follower prints a session's live view until the session ends.
type follower struct {
	ctrl        sessionController
	interval    time.Duration
	autoConfirm bool
	in          io.Reader
	out         io.Writer
	logger      *zap.Logger

	last     *schemas.LogEntry
	prompted time.Time
	answers  <-chan string
}

// follow returns nil when the session completes or the user denies an action.
// A failed session is an error; so is an interrupt, which cancels the session.
func (f *follower) follow(ctx context.Context, id string) error {
	done, err := f.ctrl.Done(id)
	if err != nil {
		return err
	}
	interval := f.interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return f.interrupt(id, ctx.Err())
		case <-done:
			return f.finish(id)
		case <-ticker.C:
			view, err := f.ctrl.LiveView(id)
			if err != nil {
				return err
			}
			f.printLogs(view.Logs)
			if view.Status != schemas.StatusAwaitingConfirmation || view.Pending == nil {
				continue
			}
			if view.Pending.RequestedAt.Equal(f.prompted) {
				continue
			}
			f.prompted = view.Pending.RequestedAt
			if err := f.decide(ctx, id, done, view.Pending); err != nil {
				return err
			}
		}
	}
}

// decide asks whether to run the pending actions and relays the answer.
func (f *follower) decide(ctx context.Context, id string, done <-chan struct{}, pending *schemas.PendingConfirmation) error {
	cmdCtx := context.WithoutCancel(ctx)
	confirm := f.autoConfirm

	if !confirm {
		fmt.Fprintf(f.out, "\nThe agent wants to run %d action(s) that need confirmation.\n", len(pending.Actions))
		if pending.Explanation != "" {
			fmt.Fprintf(f.out, "Reason: %s\n", pending.Explanation)
		}
		for _, a := range pending.Actions {
			fmt.Fprintf(f.out, "  - %s\n", a.Label())
		}
		fmt.Fprint(f.out, "Proceed? [y/N]: ")

		if f.answers == nil {
			f.answers = readLines(f.in)
		}
		select {
		case <-ctx.Done():
			return f.interrupt(id, ctx.Err())
		case <-done:
			// The session ended on its own while we waited, likely the wall clock.
			return nil
		case answer, ok := <-f.answers:
			answer = strings.ToLower(strings.TrimSpace(answer))
			confirm = ok && (answer == "y" || answer == "yes")
		}
	}

	var err error
	if confirm {
		err = f.ctrl.Confirm(cmdCtx, id)
	} else {
		err = f.ctrl.Deny(cmdCtx, id)
	}
	if errors.Is(err, agent.ErrInvalidStateTransition) {
		f.logger.Warn("Session moved on before the answer arrived.", zap.Error(err))
		return nil
	}
	return err
}

func (f *follower) interrupt(id string, cause error) error {
	fmt.Fprintln(f.out, "\nInterrupted; cancelling session.")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := f.ctrl.Cancel(ctx, id); err != nil && !errors.Is(err, agent.ErrInvalidStateTransition) {
		f.logger.Warn("Failed to cancel session.", zap.Error(err))
	}
	if view, err := f.ctrl.LiveView(id); err == nil {
		f.printLogs(view.Logs)
	}
	return cause
}

func (f *follower) finish(id string) error {
	if view, err := f.ctrl.LiveView(id); err == nil {
		f.printLogs(view.Logs)
	}
	rec, err := f.ctrl.Session(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(f.out, "\nSession %s %s after %d/%d turns.\n", rec.ID, rec.Status, rec.Turn, rec.MaxTurns)
	if rec.CurrentURL != "" {
		fmt.Fprintf(f.out, "Final URL: %s\n", rec.CurrentURL)
	}
	if rec.Status == schemas.StatusFailed {
		return fmt.Errorf("session failed: %s", rec.Error)
	}
	return nil
}

// printLogs writes the entries that follow the last one printed. The snapshot only
// holds the newest entries, so position alone cannot be trusted.
func (f *follower) printLogs(logs []schemas.LogEntry) {
	start := 0
	if f.last != nil {
		for i := len(logs) - 1; i >= 0; i-- {
			if sameEntry(logs[i], *f.last) {
				start = i + 1
				break
			}
		}
	}
	for _, entry := range logs[start:] {
		fmt.Fprintf(f.out, "%s %-7s %s\n", entry.Timestamp.Local().Format("15:04:05"), strings.ToUpper(string(entry.Level)), entry.Message)
	}
	if len(logs) > 0 {
		last := logs[len(logs)-1]
		f.last = &last
	}
}

func sameEntry(a, b schemas.LogEntry) bool {
	return a.Timestamp.Equal(b.Timestamp) && a.Level == b.Level && a.Message == b.Message
}

// readLines feeds lines from r into a channel, closing it at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
