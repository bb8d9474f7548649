package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/perchlabs/perch-client/internal/config"
	"github.com/perchlabs/perch-client/internal/logger"
	"github.com/perchlabs/perch-client/internal/relay"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	srv := relay.NewServer(cfg.RelayAuthToken, "general", "random")
	srv.Start()

	// Bound the relay's memory: drop history for channels idle too long.
	sweeper := srv.NewSweeper(1*time.Minute, 30*time.Minute)
	go sweeper.Start()

	corsOrigins := getCorsOrigins()
	logger.Log.Info("relay_starting",
		zap.String("port", cfg.RelayPort),
		zap.Strings("cors_origins", corsOrigins))

	addr := fmt.Sprintf(":%s", cfg.RelayPort)
	if err := http.ListenAndServe(addr, srv.Router(corsOrigins)); err != nil {
		logger.Log.Fatal("relay_listen_failed", zap.Error(err))
	}
}

// getCorsOrigins returns allowed CORS origins from environment or
// defaults to local development hosts.
func getCorsOrigins() []string {
	originsEnv := os.Getenv("CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}

	origins := strings.Split(originsEnv, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	return origins
}
