// Command morph watches the text fields of web pages and reports text that
// starts with a question word.
//
// Usage:
//
//	morph -config morph.yaml                # watch pages, serve the background API
//	morph -url https://example.com/form     # watch one page
//	morph -scan https://example.com/form    # list watchable fields without a browser
//	morph -addr :8765                       # background API only
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/morph/background"
	"github.com/hazyhaar/morph/inputwatch"
	"github.com/hazyhaar/morph/internal/dom"
	"github.com/hazyhaar/morph/internal/fetcher"
	"github.com/hazyhaar/morph/internal/history"
	"github.com/hazyhaar/morph/internal/secret"
	"github.com/hazyhaar/morph/internal/storage"
	"github.com/hazyhaar/morph/message"
	"github.com/hazyhaar/morph/settings"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to morph.yaml config file")
	singleURL := flag.String("url", "", "watch a single URL")
	scanURL := flag.String("scan", "", "fetch a URL, print its watchable fields and exit")
	dbPath := flag.String("db", "", "settings database (overrides storage.path)")
	addr := flag.String("addr", "", "background HTTP listen address (overrides server.addr)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *scanURL != "" {
		if err := runScan(ctx, logger, *scanURL, os.Stdout); err != nil {
			logger.Error("morph: scan failed", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg := inputwatch.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = inputwatch.LoadConfigFile(*configPath); err != nil {
			logger.Error("morph: load config", "error", err)
			os.Exit(1)
		}
	}
	if *singleURL != "" {
		cfg.Pages = append(cfg.Pages, inputwatch.PageConfig{ID: "cli", URL: *singleURL, StealthLevel: "1"})
		if *configPath == "" {
			cfg.Sinks = append(cfg.Sinks, inputwatch.SinkConfig{Type: "stdout"})
		}
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if len(cfg.Pages) == 0 && cfg.Server.Addr == "" {
		fmt.Fprintln(os.Stderr, "usage: morph -config <file> | -url <url> | -scan <url> | -addr <host:port>")
		os.Exit(2)
	}

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("morph: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *inputwatch.Config) error {
	store, err := storage.Open(cfg.Storage.Path,
		storage.WithPollInterval(cfg.Storage.PollInterval), storage.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	var sealer *secret.Sealer
	if env := cfg.Background.PassphraseEnv; env != "" {
		if sealer = secret.New(os.Getenv(env), secret.DefaultParams); sealer == nil {
			logger.Warn("morph: passphrase variable empty, api key stored in clear", "env", env)
		}
	}
	if err := history.Init(ctx, store.DB()); err != nil {
		return err
	}
	hist := history.New(store.DB(), history.WithLogger(logger))
	defer hist.Close()

	bg := background.New(store, background.Options{
		ModelsURL: cfg.Background.ModelsURL,
		Sealer:    sealer,
		History:   hist,
		Logger:    logger,
	})
	if _, err := bg.Install(ctx); err != nil {
		return err
	}
	go bg.Follow(ctx, store)

	cache := settings.NewCache(logger)
	if err := cache.Load(ctx, store); err != nil {
		logger.Warn("morph: settings load failed, using defaults", "error", err)
	}
	go cache.Follow(ctx, store)

	out, err := inputwatch.BuildSinks(cfg.Sinks, func(ctx context.Context, msg message.Message) error {
		_, err := bg.HandleMessage(ctx, msg)
		return err
	}, os.Stdout, logger)
	if err != nil {
		return err
	}
	notifier := inputwatch.NewNotifier(out, inputwatch.NotifierConfig{
		QueueSize: cfg.Notifier.QueueSize,
		Timeout:   cfg.Notifier.Timeout,
		Logger:    logger,
	})
	defer notifier.Close()

	var watchers *inputwatch.Service
	if len(cfg.Pages) > 0 {
		watchers = inputwatch.NewService(cfg, cache, notifier, logger)
		if err := watchers.Start(ctx); err != nil {
			return err
		}
		defer watchers.Stop()
	}

	if cfg.Server.Addr == "" {
		<-ctx.Done()
		return nil
	}

	var mcpSrv *mcp.Server
	if cfg.Server.MCP {
		mcpSrv = mcp.NewServer(&mcp.Implementation{Name: "morph", Version: version}, nil)
		bg.RegisterMCP(mcpSrv)
	}
	handler := bg.Router(func(r chi.Router) {
		if mcpSrv != nil {
			r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
		}
		if watchers != nil {
			mountSessions(ctx, r, watchers, notifier)
		}
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("morph: listening", "addr", cfg.Server.Addr, "mcp", mcpSrv != nil, "pages", len(cfg.Pages))
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("morph: serve: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type watchRequest struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	StealthLevel string `json:"stealth_level"`
}

// mountSessions exposes the running watchers.
func mountSessions(ctx context.Context, r chi.Router, svc *inputwatch.Service, n *inputwatch.Notifier) {
	r.Get("/api/sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"sessions": svc.Sessions(),
			"notifier": n.Stats(),
		})
	})
	r.Post("/api/sessions", func(w http.ResponseWriter, req *http.Request) {
		var body watchRequest
		if err := json.NewDecoder(io.LimitReader(req.Body, 1<<16)).Decode(&body); err != nil || body.URL == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "want {\"url\": ...}"})
			return
		}
		if body.StealthLevel == "" {
			body.StealthLevel = "1"
		}
		// Watchers outlive the request.
		p := inputwatch.PageConfig{ID: body.ID, URL: body.URL, StealthLevel: body.StealthLevel}
		if err := svc.WatchPage(ctx, p); err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "watching"})
	})
	r.Delete("/api/sessions/{pageID}", func(w http.ResponseWriter, req *http.Request) {
		if !svc.Unwatch(chi.URLParam(req, "pageID")) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not watched"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	})
}

type scanLine struct {
	ID   string            `json:"id"`
	Kind string            `json:"kind"`
	Tag  string            `json:"tag"`
	Attr map[string]string `json:"attrs,omitempty"`
}

// runScan prints one JSON line per watchable field of url.
func runScan(ctx context.Context, logger *slog.Logger, url string, w io.Writer) error {
	res, err := fetcher.New(fetcher.WithLogger(logger)).Fetch(ctx, url)
	if err != nil {
		return err
	}
	if res.NeedsBrowser {
		logger.Warn("morph: page looks script-rendered, fields may be missing; watch it with -url", "url", url)
	}
	return writeScan(ctx, res.Document, w)
}

func writeScan(ctx context.Context, doc *dom.Document, w io.Writer) error {
	snap, err := doc.Snapshot(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, el := range snap {
		if !dom.Watchable(el) {
			continue
		}
		line := scanLine{ID: el.ID, Kind: dom.KindOf(el).String(), Tag: el.Tag, Attr: el.Attrs}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
