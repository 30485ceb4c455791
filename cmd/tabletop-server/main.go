package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tabletopforge/realtime/bus"
	"github.com/tabletopforge/realtime/command"
	"github.com/tabletopforge/realtime/config"
	"github.com/tabletopforge/realtime/logger"
	"github.com/tabletopforge/realtime/protocol"
	"github.com/tabletopforge/realtime/service"
	"github.com/tabletopforge/realtime/session"
	"github.com/tabletopforge/realtime/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy belongs to the proxy in front of us.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var rootCmd = &cobra.Command{
	Use:   "tabletop-server",
	Short: "Realtime state synchronization server for tabletop campaigns",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
			if err := config.LoadEnvFile(envFile); err != nil {
				return fmt.Errorf("failed to load env file: %w", err)
			}
		}
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		cfg.Addr = config.FlagOrEnv(cmd, "addr", "TABLETOP_ADDR", cfg.Addr)
		cfg.RedisURL = config.FlagOrEnv(cmd, "redis-url", "TABLETOP_REDIS_URL", cfg.RedisURL)
		cfg.SQLitePath = config.FlagOrEnv(cmd, "sqlite", "TABLETOP_SQLITE_PATH", cfg.SQLitePath)
		if format, _ := cmd.Flags().GetString("log-format"); format != "" {
			cfg.LogFormat = format
		}

		log := config.NewLogger(cfg.LogFormat, cfg.LogLevel)
		return serve(cmd.Context(), cfg, log)
	},
}

func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := session.NewRegistry(log)
	broadcaster, closeBus, err := openBus(ctx, cfg, log, registry)
	if err != nil {
		return err
	}
	defer closeBus()

	commands := command.NewRegistry(log)
	service.NewEntityService("actor", store, broadcaster, log).Register(commands)
	service.NewEntityService("item", store, broadcaster, log).Register(commands)
	service.RegisterCampaignOps(commands, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(ctx, cfg, log, registry, commands))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening on %s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// wsHandler upgrades the connection and runs it as a session. The identity
// headers are filled in by the authenticating proxy; an unauthenticated
// request never reaches this handler in production.
func wsHandler(ctx context.Context, cfg *config.Config, log logger.Logger, registry *session.Registry, commands *command.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-Tabletop-User")
		if userID == "" {
			userID = r.URL.Query().Get("user")
		}
		if userID == "" {
			http.Error(w, "missing user identity", http.StatusUnauthorized)
			return
		}
		admin := r.Header.Get("X-Tabletop-Role") == "admin"

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed for %s: %v", r.RemoteAddr, err)
			return
		}

		sess := session.New(userID, admin)
		log.Debug("session %s opened for user %s", sess.ID, userID)
		registry.Serve(ctx, conn, sess, func(ctx context.Context, sess *session.Session, frame protocol.Frame) protocol.Result {
			cmdCtx, cancel := context.WithTimeout(ctx, cfg.CommandTimeout)
			defer cancel()
			return commands.Dispatch(cmdCtx, sess, frame)
		})
		log.Debug("session %s closed", sess.ID)
	}
}

func openStore(cfg *config.Config, log logger.Logger) (storage.Store, error) {
	if cfg.SQLitePath != "" {
		log.Info("using sqlite storage at %s", cfg.SQLitePath)
		return storage.NewSQLite(cfg.SQLitePath)
	}
	log.Info("using in-memory storage")
	return storage.NewMemory(), nil
}

func openBus(ctx context.Context, cfg *config.Config, log logger.Logger, registry *session.Registry) (bus.Broadcaster, func(), error) {
	if cfg.RedisURL == "" {
		return bus.NewLocal(registry, log), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis unreachable: %w", err)
	}
	bridge, err := bus.NewRedisBridge(ctx, log, rdb, registry)
	if err != nil {
		rdb.Close()
		return nil, nil, err
	}
	log.Info("broadcast mirroring over redis enabled")
	return bridge, func() {
		bridge.Close()
		rdb.Close()
	}, nil
}

func main() {
	serveCmd.Flags().String("addr", "", "listen address")
	serveCmd.Flags().String("redis-url", "", "redis url for cross-node broadcasts")
	serveCmd.Flags().String("sqlite", "", "sqlite database path")
	serveCmd.Flags().String("log-format", "", "log format (console or json)")
	serveCmd.Flags().String("env-file", "", "dotenv file to load before reading the environment")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
