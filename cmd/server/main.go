package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-roomsync/internal/api"
	"github.com/npezzotti/go-roomsync/internal/config"
	"github.com/npezzotti/go-roomsync/internal/identity"
	"github.com/npezzotti/go-roomsync/internal/notify"
	"github.com/npezzotti/go-roomsync/internal/stats"
	"github.com/npezzotti/go-roomsync/internal/store"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	storeBackend   string
	dsn            string
	migrationsURL  string
	signingKey     string
	redisAddr      string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&storeBackend, "store", config.StorePostgres, "store backend (postgres or memory)")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&migrationsURL, "migrations", "file://migrations", "migrations source URL")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address for notification delivery (optional)")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[roomsync] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, storeBackend, dsn, migrationsURL, signingKey, redisAddr, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var st store.RoomSyncStore
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pg, err := store.NewPostgresStore(cfg.DatabaseDSN, logger)
		if err != nil {
			logger.Fatal("store open:", err)
		}
		if cfg.MigrationsURL != "" {
			if err := pg.Migrate(cfg.MigrationsURL); err != nil {
				logger.Fatal("migrate:", err)
			}
		}
		st = pg
	case config.StoreMemory:
		st = store.NewMemoryStore()
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Fatal("store close:", err)
		}
	}()

	ids := identity.NewService(cfg.SigningKey, logger)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	srv := api.NewRoomSyncApp(mux, logger, st, ids, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	var relay notify.Relay
	if cfg.RedisAddr != "" {
		redisRelay := notify.NewRedisRelay(cfg.RedisAddr)
		defer redisRelay.Close()
		relay = redisRelay
	} else {
		relay = notify.NewLogRelay(logger)
	}

	notifier := notify.NewNotifier(st, relay, logger, statsUpdater)
	notifierCtx, stopNotifier := context.WithCancel(context.Background())
	defer stopNotifier()
	go func() {
		if err := notifier.Run(notifierCtx); err != nil && err != context.Canceled {
			logger.Println("notifier:", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("stopping notifier...")
	stopNotifier()
	notifier.Stop()

	logger.Println("shutdown complete")
}
