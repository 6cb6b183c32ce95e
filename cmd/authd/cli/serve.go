package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scopeline/authd/internal/audit"
	"github.com/scopeline/authd/internal/cache"
	"github.com/scopeline/authd/internal/handler"
	"github.com/scopeline/authd/internal/server"
	"github.com/scopeline/authd/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authd API server",
		Long:  "Start the HTTP server that issues credentials, resolves identities, and enforces access control.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func setServeDefaults() {
	viper.SetDefault("cache.size", 4096)
	viper.SetDefault("cache.ttl", time.Minute)
	viper.SetDefault("cache.lookup_timeout", 3*time.Second)
	viper.SetDefault("lockout.threshold", 5)
	viper.SetDefault("lockout.window", 15*time.Minute)
	viper.SetDefault("lockout.lock_for", 15*time.Minute)
	viper.SetDefault("server.cors_origins", []string{"*"})
}

func runServe(host string, port int, dev bool) error {
	setServeDefaults()

	logLevel := slog.LevelInfo
	if dev || viper.GetString("log.level") == "debug" {
		logLevel = slog.LevelDebug
	}
	var logger *slog.Logger
	if viper.GetString("log.format") == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	sessionSecret := viper.GetString("session.secret")
	if sessionSecret == "" {
		return fmt.Errorf("session.secret is not set (AUTHD_SESSION_SECRET): refusing to start without a session verification key")
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}
	defer store.Close()
	logger.Info("credential store initialized", "driver", viper.GetString("store.driver"))

	auditor := audit.New(viper.GetString("audit.url"), logger)
	auditor.Start()
	defer auditor.Stop()

	credCache := cache.New(store,
		viper.GetInt("cache.size"),
		viper.GetDuration("cache.ttl"),
		viper.GetDuration("cache.lookup_timeout"))
	creds := service.NewCredentials(store, credCache, auditor, logger)
	sessions := service.NewSessionVerifier(sessionSecret)
	resolver := service.NewResolver(creds, sessions, store, auditor, logger)

	lockout := service.NewLockout(store, auditor, logger,
		viper.GetInt("lockout.threshold"),
		viper.GetDuration("lockout.window"),
		viper.GetDuration("lockout.lock_for"))
	lockout.StartJanitor()
	defer lockout.StopJanitor()

	var traces handler.TraceDirectory
	if ts := service.NewTraceStore(viper.GetString("traces.url")); ts != nil {
		traces = ts
	} else {
		logger.Warn("no trace store configured, /api/v1/traces is unavailable")
	}

	adminToken := viper.GetString("server.admin_token")
	if adminToken == "" {
		logger.Warn("no admin token configured, /api/v1/system is unavailable")
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.CORSOrigins = viper.GetStringSlice("server.cors_origins")
	srvCfg.AdminToken = adminToken

	srv := server.New(srvCfg, server.Deps{
		Store:    store,
		Creds:    creds,
		Resolver: resolver,
		Lockout:  lockout,
		Traces:   traces,
		Logger:   logger,
	})

	fmt.Printf("→ authd\n")
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
