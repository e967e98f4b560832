package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"taskflow/internal/collection"
	"taskflow/internal/config"
	"taskflow/internal/credential"
	"taskflow/internal/gateway"
	"taskflow/internal/models"
	"taskflow/internal/session"
	"taskflow/internal/store"
	"taskflow/internal/view"
)

// app is the wired client: local storage, credential, gate, remote and collection.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	holder   *credential.Holder
	gate     *session.Gate
	client   *gateway.Client
	tasks    *collection.Collection
	registry *prometheus.Registry
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	models.DefaultLocation = loc

	lang, err := cfg.Language()
	if err != nil {
		return nil, err
	}

	if cfg.Storage.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	s, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	holder := credential.NewHolder(s,
		credential.WithLogger(logger),
		credential.WithCookieTTL(cfg.Storage.CookieTTL),
	)
	gate := session.NewGate(holder, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client := gateway.NewClient(cfg.API.BaseURL, holder,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		gateway.WithLogger(logger),
		gateway.WithMetrics(gateway.NewMetrics(registry)),
	)

	tasks := collection.New(client, holder, gate,
		collection.WithLogger(logger),
		collection.WithDeriver(view.New(lang)),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		holder:   holder,
		gate:     gate,
		client:   client,
		tasks:    tasks,
		registry: registry,
	}, nil
}

func (a *app) Close() error {
	a.tasks.Close()
	a.gate.Close()
	return a.store.Close()
}
