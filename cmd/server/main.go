// FraudSwarm - Real-time multi-agent transaction fraud scoring
package main

import (
	"context"
	"os"

	"github.com/mbd888/fraudswarm/internal/config"
	"github.com/mbd888/fraudswarm/internal/logging"
	"github.com/mbd888/fraudswarm/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	bootLogger := logging.New("info", "text")

	bootLogger.Info("starting fraudswarm",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"embedding_provider", cfg.EmbeddingProvider,
		"postgres", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"kafka", len(cfg.KafkaBrokers) > 0,
		"agent_timeout", cfg.AgentTimeout,
		"analysis_timeout", cfg.AnalysisTimeout,
	)

	if Version != "dev" {
		server.Version = Version
	}

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
