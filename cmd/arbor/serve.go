// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arborun/arbor/pkg/api"
	"github.com/arborun/arbor/pkg/config"
	"github.com/arborun/arbor/pkg/executor"
	"github.com/arborun/arbor/pkg/llms"
	"github.com/arborun/arbor/pkg/orchestrator"
	"github.com/arborun/arbor/pkg/store"
	"github.com/arborun/arbor/pkg/treecache"
)

// ServeCmd starts the HTTP server exposing the agent/session CRUD
// surface and the run SSE endpoint.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var cache *treecache.Cache
	repo, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, func(sessionID string) {
		if cache != nil {
			cache.Invalidate(sessionID)
		}
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build llm registry: %w", err)
	}

	cache = treecache.NewCache(repo, registry, 256)

	execCfg := executor.Config{
		MaxDepth:             cfg.Executor.MaxDepth,
		MaxParallelPerRun:    cfg.Executor.MaxParallelPerRun,
		GlobalLLMConcurrency: cfg.Executor.GlobalLLMConcurrency,
		AgentTimeout:         time.Duration(cfg.Executor.AgentTimeoutSeconds) * time.Second,
		ChannelCapacity:      cfg.Executor.ChannelCapacity,
		SelectionThreshold:   cfg.Executor.SelectionThreshold,
	}
	eng := executor.New(repo, cache, registry, execCfg)

	orchCfg := orchestrator.Config{
		RunTimeout:        time.Duration(cfg.Executor.RunTimeoutSeconds) * time.Second,
		HeartbeatInterval: orchestrator.DefaultConfig().HeartbeatInterval,
		ChannelCapacity:   cfg.Executor.ChannelCapacity,
	}
	orch := orchestrator.New(repo, cache, eng, registry, orchCfg)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)

	api.New(repo).Mount(router)
	router.Post("/v1/sessions/{sessionID}/runs/{runID}/start", orch.ServeRun)
	router.Get("/v1/providers", serveProviders(registry))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	watchProviders(ctx, cli.Config, registry)

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("arbor: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-serveErr:
		return err
	}
}

// buildProviders turns a Config's llms: section into the provider set
// and default name Registry.Reload expects. Shared by the initial
// registry build and every config-file-triggered reload.
func buildProviders(cfg *config.Config) (map[string]llms.Provider, string, error) {
	providers := make(map[string]llms.Provider, len(cfg.LLMs))
	defaultName := ""
	for name, llmCfg := range cfg.LLMs {
		var provider llms.Provider
		switch llmCfg.Provider {
		case config.LLMProviderOpenAI:
			provider = llms.NewOpenAIProvider(llmCfg.BaseURL)
		case config.LLMProviderAnthropic:
			provider = llms.NewAnthropicProvider(llmCfg.BaseURL)
		case config.LLMProviderStub:
			provider = &llms.StubProvider{}
		default:
			return nil, "", fmt.Errorf("unsupported provider %q for %q", llmCfg.Provider, name)
		}
		providers[name] = provider
		if llmCfg.Default {
			defaultName = name
		}
	}

	if len(providers) == 0 {
		providers["stub"] = &llms.StubProvider{}
		defaultName = "stub"
	}
	if defaultName == "" {
		for name := range providers {
			defaultName = name
			break
		}
	}
	return providers, defaultName, nil
}

func buildRegistry(cfg *config.Config) (*llms.Registry, error) {
	providers, defaultName, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}
	registry := llms.NewRegistry()
	if err := registry.Reload(providers, defaultName, cfg.LegacyModelMap); err != nil {
		return nil, err
	}
	return registry, nil
}

// watchProviders reloads registry in place whenever the config file at
// path changes on disk, so an operator can rotate a provider's base URL
// or add a new LLMs entry without a restart. Failure to start the watch
// (e.g. the platform's fsnotify backend is unavailable) only disables
// hot-reload; the server keeps running with what it already loaded.
func watchProviders(ctx context.Context, path string, registry *llms.Registry) {
	err := config.Watch(ctx, path, func(newCfg *config.Config) {
		providers, defaultName, err := buildProviders(newCfg)
		if err != nil {
			slog.Error("config reload: rejected", "error", err)
			return
		}
		if err := registry.Reload(providers, defaultName, newCfg.LegacyModelMap); err != nil {
			slog.Error("config reload: applying providers", "error", err)
			return
		}
		slog.Info("config reload: applied", "providers", registry.Providers(), "default", defaultName)
	})
	if err != nil {
		slog.Warn("config: file watch unavailable, hot-reload disabled", "path", path, "error", err)
	}
}

// serveProviders reports the LLM providers this server loaded and which
// one is the default, letting an operator confirm a config change took
// effect without restarting with a higher log level.
func serveProviders(registry *llms.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"providers": registry.Providers(),
			"default":   registry.DefaultProvider(),
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
