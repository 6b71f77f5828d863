// Command kumodash is the KumoMTA dashboard backend: it polls a KumoMTA
// server for delivery and queue metrics, evaluates alert rules against the
// sample stream, dispatches notifications over email, Slack, and webhooks,
// and serves the dashboard REST API and WebSocket stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kumodash/kumodash/internal/alerts"
	"github.com/kumodash/kumodash/internal/api"
	"github.com/kumodash/kumodash/internal/bus"
	"github.com/kumodash/kumodash/internal/config"
	"github.com/kumodash/kumodash/internal/kumo"
	"github.com/kumodash/kumodash/internal/notify"
	"github.com/kumodash/kumodash/internal/poller"
	"github.com/kumodash/kumodash/internal/store"
	"github.com/kumodash/kumodash/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	uiDir := flag.String("ui-dir", "", "serve the React UI static files from this directory (e.g. ui/dist); leave empty to disable")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("kumodash starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"kumomta_endpoint", cfg.KumoMTA.Endpoint,
		"poll_interval", cfg.KumoMTA.PollInterval,
		"rules", len(cfg.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Event bridge between the poller, the alert engine, and the WS hub.
	b := bus.New()

	// Dashboard state store with background TTL eviction.
	st := store.New(cfg.Store.TTL)
	go st.Run(ctx)

	// Notification channel adapters, configured once at startup. An adapter
	// with missing settings stays unconfigured for the process lifetime.
	email := notify.NewEmailSender(notify.EmailConfig{
		Host:     cfg.Channels.Email.Host,
		Port:     cfg.Channels.Email.Port,
		Username: cfg.Channels.Email.Username,
		Password: cfg.Channels.Email.Password(),
		From:     cfg.Channels.Email.From,
	})
	slack := notify.NewSlackSender(cfg.Channels.Slack.WebhookURL(), cfg.Channels.Slack.Channel)
	webhook := notify.NewWebhookSender(cfg.Channels.Webhook.URL())
	router := notify.NewRouter(email, slack, webhook, notify.RouteConfig{
		EmailRecipients: cfg.Channels.Email.Recipients,
		SlackChannel:    cfg.Channels.Slack.Channel,
	})

	// Alert engine — evaluates rules on every incoming sample.
	engine := alerts.NewEngine(alerts.NewEvaluator(), router, b, cfg.Rules)
	go engine.Run(ctx)

	// Rule hot reload: a config file change swaps the rule set only.
	go func() {
		if err := config.Watch(ctx, *configPath, func(next *config.Config) {
			engine.ReplaceRules(next.Rules)
			slog.Info("rules reloaded", "count", len(next.Rules))
		}); err != nil {
			slog.Error("config watch stopped", "err", err)
		}
	}()

	// KumoMTA poller.
	client := kumo.NewClient(kumo.ClientOptions{
		Endpoint: cfg.KumoMTA.Endpoint,
		APIKey:   cfg.KumoMTA.APIKey(),
		Header:   cfg.KumoMTA.Header,
	})
	p := poller.New(client, b, st, cfg.KumoMTA.PollInterval)
	go p.Run(ctx)

	// WebSocket hub — forwards bus events to UI clients.
	hub := ws.New(b)
	go hub.Run(ctx)

	// Combined HTTP server: REST API + WebSocket hub.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(st, engine, router, p))
	httpMux.Handle("/ws/stream", hub)

	// Optional: serve the pre-built React UI from a local directory.
	// The "/" catch-all serves index.html for any unknown path (SPA routing).
	if *uiDir != "" {
		fs := http.FileServer(http.Dir(*uiDir))
		httpMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			// SPA fallback: if the requested file doesn't exist, serve index.html.
			path := *uiDir + r.URL.Path
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, r, *uiDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
		slog.Info("serving UI static files", "dir", *uiDir)
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("kumodash shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
