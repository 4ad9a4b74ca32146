package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/user/pmb-go/internal/api"
	"github.com/user/pmb-go/internal/callback"
	"github.com/user/pmb-go/internal/config"
	"github.com/user/pmb-go/internal/database"
	"github.com/user/pmb-go/internal/intercept"
	"github.com/user/pmb-go/internal/obs"
	"github.com/user/pmb-go/internal/proxy"
	"github.com/user/pmb-go/internal/repeater"
	"github.com/user/pmb-go/internal/repository"
	"github.com/user/pmb-go/internal/requestlog"
	"github.com/user/pmb-go/internal/version"
)

func main() {
	var (
		configFile      string
		proxyListen     string
		dashboardListen string
		overrides       []string
		showVersion     bool
	)

	root := &cobra.Command{
		Use:           "pmb",
		Short:         "Intercepting HTTP(S) proxy with an operator dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Println(version.Info())
				return nil
			}
			if proxyListen != "" {
				overrides = append(overrides, "proxy.listen="+proxyListen)
			}
			if dashboardListen != "" {
				overrides = append(overrides, "dashboard.listen="+dashboardListen)
			}
			cfg, err := config.Load(configFile, overrides)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cfg)
		},
	}

	root.Flags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")
	root.Flags().StringVar(&proxyListen, "listen", "", "proxy listen address (overrides config)")
	root.Flags().StringVar(&dashboardListen, "dashboard-listen", "", "dashboard listen address (overrides config)")
	root.Flags().StringArrayVar(&overrides, "set", nil, "config override key=value (repeatable)")
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "print version and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger, err := newLogger(cfg.Logs.Level, cfg.Logs.Dir, cfg.Logs.Rotation)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting pmb",
		zap.String("version", version.Short()),
		zap.String("proxy_listen", cfg.Proxy.Listen),
		zap.String("dashboard_listen", cfg.Dashboard.Listen),
	)

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	metrics := obs.NewMetrics()

	broker := intercept.NewBroker(logger)
	purger := intercept.NewPurger(broker, cfg.Intercept.PurgeInterval.Std(), cfg.Intercept.PurgeAge.Std(), logger)
	purger.Start()
	defer purger.Stop()

	toggle := intercept.NewToggle(filepath.Join(cfg.Logs.Dir, "intercept_state.json"), logger)
	callbacks := callback.NewStore(cfg.Logs.Dir, logger)

	reqLog := requestlog.New(filepath.Join(cfg.Logs.Dir, "requests.log"))
	defer reqLog.Close()

	templates := repository.NewTemplateRepository(db)
	repeaterEngine := repeater.NewEngine(logger)

	// In-process toggle by default; a split deployment points the proxy
	// at the dashboard's status endpoint instead.
	var status proxy.StatusProvider = toggle
	if cfg.Proxy.StatusURL != "" {
		status = proxy.NewRemoteStatus(cfg.Proxy.StatusURL)
	}

	engine := proxy.NewEngine(proxy.Config{
		CallbackBase:    cfg.EffectiveCallbackBase(),
		BypassHosts:     cfg.ControlPlaneHosts(),
		DecisionWait:    cfg.Proxy.DecisionWait.Std(),
		UpstreamTimeout: cfg.Proxy.UpstreamTimeout.Std(),
		DialTimeout:     cfg.Proxy.DialTimeout.Std(),
	}, proxy.Deps{
		Broker:    broker,
		Callbacks: callbacks,
		Status:    status,
		ReqLog:    reqLog,
		Metrics:   metrics,
		Logger:    logger,
	})

	dashboard := api.NewServer(api.ServerDeps{
		Broker:     broker,
		Toggle:     toggle,
		Callbacks:  callbacks,
		Repeater:   repeaterEngine,
		Templates:  templates,
		Metrics:    metrics,
		ProxyAddr:  cfg.Proxy.Listen,
		CLILogPath: filepath.Join(cfg.Logs.Dir, "cli.log"),
		Logger:     logger,
	})

	proxyServer := &http.Server{
		Addr:    cfg.Proxy.Listen,
		Handler: engine,
		// No ReadTimeout/WriteTimeout: CONNECT tunnels stay open as long
		// as the browser keeps them alive.
		IdleTimeout: 120 * time.Second,
	}
	dashboardServer := &http.Server{
		Addr:         cfg.Dashboard.Listen,
		Handler:      dashboard,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("proxy listening", zap.String("addr", cfg.Proxy.Listen))
		if err := proxyServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("proxy server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("dashboard listening", zap.String("addr", cfg.Dashboard.Listen))
		if err := dashboardServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("dashboard server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var firstErr error
		if err := dashboardServer.Shutdown(shutdownCtx); err != nil {
			firstErr = fmt.Errorf("dashboard shutdown: %w", err)
		}
		if err := proxyServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("proxy shutdown: %w", err)
		}
		return firstErr
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

func newLogger(level string, logDir string, rotation config.LogRotationConfig) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug", "DEBUG":
		zapLevel = zap.DebugLevel
	case "warn", "WARN":
		zapLevel = zap.WarnLevel
	case "error", "ERROR":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", logDir, err)
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "pmb.log"),
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	}

	// File core: JSON encoder for structured log parsing
	fileEncoderCfg := zap.NewProductionEncoderConfig()
	fileEncoderCfg.TimeKey = "ts"
	fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEncoderCfg),
		zapcore.AddSync(lj),
		zapLevel,
	)

	// Console core: human-readable output to stdout/stderr
	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderCfg)

	// stdout for DEBUG/INFO, stderr for WARN/ERROR+
	stdoutCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.Lock(os.Stdout),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapLevel && l < zapcore.WarnLevel
		}),
	)
	stderrCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.Lock(os.Stderr),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapLevel && l >= zapcore.WarnLevel
		}),
	)

	core := zapcore.NewTee(fileCore, stdoutCore, stderrCore)

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	), nil
}
