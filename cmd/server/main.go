// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"sqlpilot/platform/connectors/base"
	"sqlpilot/platform/connectors/manager"
	"sqlpilot/platform/connectors/mongodb"
	"sqlpilot/platform/connectors/registry"
	"sqlpilot/platform/credentials"
	"sqlpilot/platform/gateway"
	"sqlpilot/platform/orchestrator"
	"sqlpilot/platform/orchestrator/llm/gemini"
	"sqlpilot/platform/shared/logger"
)

func main() {
	log := logger.New("sqlpilot-gateway")

	cfg, err := gateway.LoadConfig(os.Getenv("SQLPILOT_CONFIG"))
	if err != nil {
		log.Error("", "invalid configuration", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	provider, err := gemini.NewProvider(gemini.Config{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		BaseURL: cfg.Gemini.BaseURL,
	})
	if err != nil {
		log.Error("", "failed to initialize LLM provider", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	store, err := credentials.NewStore(cfg.TokenSecret, cfg.CredentialTTL)
	if err != nil {
		log.Error("", "failed to initialize credential store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	reg := registry.New()
	if cfg.MongoSampleSize > 0 {
		reg.Register(base.TypeMongoDB, mongodb.NewWithSampleSize(cfg.MongoSampleSize))
	}

	mgr := manager.NewWithTTL(reg, log, cfg.SchemaTTL)
	mgr.OnCacheEvent = gateway.ObserveCacheEvent

	gen := orchestrator.NewQueryGenerator(provider, log)
	gen.OnLLMCall = gateway.ObserveLLMCall

	exec := orchestrator.NewExecutor(mgr, gen, log)
	exec.OnRetry = gateway.ObserveQueryRetry

	server := gateway.NewServer(cfg, log, store, exec, mgr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.ListenAndServe(ctx); err != nil {
		log.Error("", "server exited", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
