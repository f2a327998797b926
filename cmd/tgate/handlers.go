package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/tgate/internal/bus"
	"github.com/haasonsaas/tgate/internal/channels/telegram"
	"github.com/haasonsaas/tgate/internal/config"
	"github.com/haasonsaas/tgate/internal/observability"
	"github.com/haasonsaas/tgate/internal/offsets"
	"github.com/haasonsaas/tgate/pkg/models"
)

const (
	eventBuffer     = 64
	shutdownTimeout = 30 * time.Second
	maxRequestLine  = 16 << 20
)

type serveOptions struct {
	configPath string
	debug      bool
	stdio      bool
	in         io.Reader
	out        io.Writer
}

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads configuration, starts every account and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if opts.debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	logger.Info("starting tgate",
		"version", version,
		"commit", commit,
		"config", opts.configPath,
		"accounts", len(cfg.Telegram.Accounts))

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promReg)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "tgate",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})

	store, err := offsets.Open(ctx, cfg.Offsets, logger)
	if err != nil {
		return fmt.Errorf("failed to open offset store: %w", err)
	}

	events := bus.NewMemory(eventBuffer)
	sub, unsubscribe := events.Subscribe()

	reg, err := telegram.NewRegistry(telegram.Options{
		Accounts: cfg.Telegram.Accounts,
		Offsets:  store,
		Bus:      events,
		Metrics:  metrics,
		Tracer:   tracer,
		Logger:   logger,
	})
	if err != nil {
		unsubscribe()
		_ = store.Close(context.Background())
		return fmt.Errorf("failed to initialize accounts: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
	}

	// The event writer outlives ctx so events drained from the chat queues
	// during shutdown still reach it.
	stopEvents := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if opts.stdio {
			writeEvents(stopEvents, sub, opts.out, logger)
		} else {
			logEvents(stopEvents, sub, logger)
		}
	}()
	if opts.stdio {
		go readRequests(ctx, opts.in, newRequestRouter(registryGateway{reg}), logger)
	}

	startErr := reg.Start(ctx, "")
	if startErr != nil {
		logger.Error("some accounts failed to start", "error", startErr)
		if anyRunning(reg.Statuses()) {
			startErr = nil
		} else {
			cancel()
		}
	}
	for _, st := range reg.Statuses() {
		logger.Info("account status",
			"account", st.AccountID,
			"running", st.Running,
			"bot_username", st.BotUsername,
			"last_error", st.LastError)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var errs []error
	errs = append(errs, reg.Close(shutdownCtx))
	events.Close()
	close(stopEvents)
	wg.Wait()
	unsubscribe()
	errs = append(errs, store.Close(shutdownCtx), shutdownTracer(shutdownCtx))
	if metricsSrv != nil {
		errs = append(errs, metricsSrv.Shutdown(shutdownCtx))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if startErr != nil {
		return fmt.Errorf("no account could be started: %w", startErr)
	}
	logger.Info("tgate stopped")
	return nil
}

func anyRunning(statuses []telegram.Status) bool {
	for _, st := range statuses {
		if st.Running {
			return true
		}
	}
	return false
}

// writeEvents encodes each inbound event as one JSON line until stop is
// closed, then writes whatever is still buffered.
func writeEvents(stop <-chan struct{}, events <-chan models.InboundEvent, out io.Writer, logger *slog.Logger) {
	enc := json.NewEncoder(out)
	consumeEvents(stop, events, func(ev models.InboundEvent) {
		if err := enc.Encode(ev); err != nil {
			logger.Error("failed to write inbound event", "event_id", ev.ID, "error", err)
		}
	})
}

func logEvents(stop <-chan struct{}, events <-chan models.InboundEvent, logger *slog.Logger) {
	consumeEvents(stop, events, func(ev models.InboundEvent) {
		logger.Info("inbound event",
			"event_id", ev.ID,
			"account", ev.AccountID,
			"session_key", ev.Metadata.SessionKey,
			"attachments", len(ev.Attachments))
	})
}

func consumeEvents(stop <-chan struct{}, events <-chan models.InboundEvent, handle func(models.InboundEvent)) {
	for {
		select {
		case ev := <-events:
			handle(ev)
		case <-stop:
			for {
				select {
				case ev := <-events:
					handle(ev)
				default:
					return
				}
			}
		}
	}
}

// gateway is the outbound half of the registry.
type gateway interface {
	Send(ctx context.Context, req models.OutboundRequest) (models.SendResult, error)
	StartStream(ctx context.Context, target telegram.StreamTarget) (draft, error)
}

// draft is one streamed reply.
type draft interface {
	Update(text string)
	End(ctx context.Context, finalText string) (models.SendResult, error)
	Abort() error
}

type registryGateway struct {
	*telegram.Registry
}

func (g registryGateway) StartStream(ctx context.Context, target telegram.StreamTarget) (draft, error) {
	h, err := g.Registry.StartStream(ctx, target)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// requestRouter dispatches stdin requests. Stream requests are tracked per
// account, chat and thread; everything else goes straight to Send. It is
// used from a single goroutine.
type requestRouter struct {
	gw      gateway
	streams map[string]draft
}

func newRequestRouter(gw gateway) *requestRouter {
	return &requestRouter{gw: gw, streams: make(map[string]draft)}
}

func (r *requestRouter) handle(ctx context.Context, req models.OutboundRequest) (models.SendResult, error) {
	key := fmt.Sprintf("%s|%s|%d", req.AccountID, req.ChatID, req.ThreadID)
	switch req.Type {
	case models.OutboundStreamUpdate:
		d, ok := r.streams[key]
		if !ok {
			var err error
			d, err = r.gw.StartStream(ctx, telegram.StreamTarget{
				AccountID:        req.AccountID,
				ChatID:           req.ChatID,
				ThreadID:         req.ThreadID,
				ReplyToMessageID: req.ReplyToMessageID,
			})
			if err != nil {
				return models.SendResult{ChatID: req.ChatID, Error: err.Error()}, err
			}
			r.streams[key] = d
		}
		d.Update(req.Content)
		return models.SendResult{ChatID: req.ChatID, Success: true}, nil
	case models.OutboundStreamEnd:
		d, ok := r.streams[key]
		if !ok {
			req.Type = models.OutboundMessage
			return r.gw.Send(ctx, req)
		}
		delete(r.streams, key)
		return d.End(ctx, req.Content)
	case models.OutboundStreamAbort:
		d, ok := r.streams[key]
		if !ok {
			return models.SendResult{ChatID: req.ChatID, Success: true}, nil
		}
		delete(r.streams, key)
		if err := d.Abort(); err != nil {
			return models.SendResult{ChatID: req.ChatID, Error: err.Error()}, err
		}
		return models.SendResult{ChatID: req.ChatID, Success: true}, nil
	default:
		return r.gw.Send(ctx, req)
	}
}

// readRequests decodes one outbound request per line and dispatches it. Bad
// lines are logged and skipped.
func readRequests(ctx context.Context, in io.Reader, r *requestRouter, logger *slog.Logger) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestLine)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req models.OutboundRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			logger.Warn("invalid outbound request", "error", err)
			continue
		}
		res, err := r.handle(ctx, req)
		if err != nil {
			logger.Warn("outbound request failed", "chat_id", req.ChatID, "type", req.Type, "error", err)
			continue
		}
		logger.Debug("outbound request handled", "chat_id", res.ChatID, "message_id", res.MessageID)
	}
	if err := scanner.Err(); err != nil {
		logger.Error("outbound request stream failed", "error", err)
	}
}

// =============================================================================
// Offsets Command Handlers
// =============================================================================

func runOffsetsShow(ctx context.Context, out io.Writer, configPath string, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	store, err := offsets.Open(ctx, cfg.Offsets, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open offset store: %w", err)
	}
	defer store.Close(ctx)

	records, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list offsets: %w", err)
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No offsets recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tLAST UPDATE\tUPDATED")
	for _, rec := range records {
		updated := "-"
		if !rec.UpdatedAt.IsZero() {
			updated = rec.UpdatedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", rec.AccountID, rec.LastUpdateID, updated)
	}
	return w.Flush()
}

// =============================================================================
// Config Command Handlers
// =============================================================================

func runCheckConfig(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "%s: %d issue(s)\n", configPath, len(verr.Issues))
			for _, issue := range verr.Issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
		}
		return err
	}
	enabled := 0
	for _, acct := range cfg.Telegram.Accounts {
		if acct.IsEnabled() {
			enabled++
		}
	}
	fmt.Fprintf(out, "%s: ok (%d account(s), %d enabled, offsets backend %s)\n",
		configPath, len(cfg.Telegram.Accounts), enabled, cfg.Offsets.Backend)
	return nil
}

func runPrintSchema(out io.Writer) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
