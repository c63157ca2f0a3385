package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanurivanta-afk/tokomon/internal/bot"
	"github.com/sanurivanta-afk/tokomon/internal/buildinfo"
	"github.com/sanurivanta-afk/tokomon/internal/config"
	"github.com/sanurivanta-afk/tokomon/internal/itemku"
	"github.com/sanurivanta-afk/tokomon/internal/metrics"
	"github.com/sanurivanta-afk/tokomon/internal/monitor"
	"github.com/sanurivanta-afk/tokomon/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	s, err := newStore(cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer func() { _ = s.Close() }()

	client := itemku.NewClient(cfg.OrderHistoryURL, cfg.DeliverURL, time.Duration(cfg.HTTPTimeoutSec)*time.Second)

	b, err := bot.New(cfg.BotToken, cfg.AllowedChatID, cfg.BotPIN)
	if err != nil {
		log.Fatalf("bot: %v", err)
	}

	mon := monitor.New(monitor.Config{
		Interval:     time.Duration(cfg.PollIntervalSec) * time.Second,
		ErrorBackoff: time.Duration(cfg.ErrorBackoffSec) * time.Second,
		AnnounceCap:  cfg.AnnounceCap,
	}, s, client, client, b)
	b.Attach(mon)

	metrics.RegisterDefault()
	srv := opsServer(cfg.Port, s)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ops server: %v", err)
		}
	}()

	go b.Run()
	log.Printf("tokomon %s up, ops on :%s", buildinfo.Version, cfg.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("shutting down")
	b.Close()
	mon.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// newStore picks the persistence backend: DATABASE_URL wins, then REDIS_URL,
// then in-memory (with a loud warning, since dedup state is lost on restart).
func newStore(cfg config.Config) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		return store.NewPostgres(cfg.DatabaseURL)
	}
	if cfg.RedisURL != "" {
		return store.NewRedis(cfg.RedisURL, cfg.Namespace)
	}
	log.Printf("WARNING: no REDIS_URL or DATABASE_URL; state will not survive a restart")
	return store.NewMemory(), nil
}

func opsServer(port string, s store.Store) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "build": buildinfo.Info()})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			http.Error(w, "store unavailable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
