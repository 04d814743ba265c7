package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/diffview/internal/common/config"
	"github.com/kandev/diffview/internal/common/httpmw"
	"github.com/kandev/diffview/internal/common/logger"
	"github.com/kandev/diffview/internal/common/portutil"
	"github.com/kandev/diffview/internal/diff"
	"github.com/kandev/diffview/internal/editors"
	"github.com/kandev/diffview/internal/events"
	"github.com/kandev/diffview/internal/frontend"
	gateways "github.com/kandev/diffview/internal/gateway/websocket"
	"github.com/kandev/diffview/internal/history"
	"github.com/kandev/diffview/internal/i18n"
	"github.com/kandev/diffview/internal/subscription"
	"github.com/kandev/diffview/internal/tracing"
	"github.com/kandev/diffview/internal/watcher"
)

const (
	serviceName     = "diffview"
	shutdownTimeout = 10 * time.Second
)

func newServeCmd(opts *rootOptions, tr *i18n.Translator) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: tr.T("cli.serveShort"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, tr, cmd.OutOrStdout())
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions, tr *i18n.Translator, out io.Writer) error {
	// 1. Configuration
	cfg, err := opts.loadConfig()
	if err != nil {
		return errors.New(tr.Tf("errors.configLoad", err))
	}
	if cfg.I18n.Language != "" {
		tr.SetLanguage(i18n.Language(cfg.I18n.Language))
	}

	// 2. Logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown error", zap.Error(err))
		}
	}()

	// 3. Diff engine over the configured history backend
	hist := newHistory(cfg.Git, log)
	engine := diff.NewEngine(hist, log)

	// 4. Watcher pool
	backend, err := watcher.NewFSNotifyBackend(cfg.Watcher.Debounce(), log)
	if err != nil {
		return errors.New(tr.Tf("errors.watcherFailed", err))
	}
	pool := watcher.NewPool(backend, log)
	defer func() {
		if err := pool.Close(); err != nil {
			log.Warn("watcher pool close error", zap.Error(err))
		}
	}()

	// 5. Event bus
	eventBus, closeBus, err := events.Provide(cfg.NATS, log)
	if err != nil {
		return err
	}
	defer closeBus()

	// 6. Subscription hub and HTTP server
	hub := subscription.NewHub(engine, pool, eventBus, log)
	router, err := newRouter(cfg, hub, editors.NewService(cfg.Editor, log), log)
	if err != nil {
		return err
	}

	port := cfg.Server.Port
	if port == 0 {
		if port, err = portutil.PickDynamicPort(cfg.Server.Host); err != nil {
			return errors.New(tr.Tf("errors.noPort", err))
		}
	}
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(tr.Tf("errors.serverFailed", err))
	}
	server := &http.Server{
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(out, tr.T("server.shutdown"))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info("diffview server listening",
		zap.String("addr", addr),
		zap.String("git_backend", hist.Name()),
		zap.Bool("nats", cfg.NATS.URL != ""))
	printBanner(out, tr, cfg.Server.Host, port, hist.Name())

	if err := g.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
		return errors.New(tr.Tf("errors.serverFailed", err))
	}
	<-hub.Done()
	fmt.Fprintln(out, tr.T("server.stopped"))
	return nil
}

func newHistory(cfg config.GitConfig, log *logger.Logger) history.History {
	if cfg.Backend == config.GitBackendGoGit {
		return history.NewGoGit(log)
	}
	return history.NewGitCLI(cfg.Binary, cfg.TimeoutDuration(), log)
}

func newRouter(cfg *config.Config, hub *subscription.Hub, editorSvc *editors.Service, log *logger.Logger) (*gin.Engine, error) {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestID())
	router.Use(httpmw.RequestLogger(log, serviceName))
	router.Use(httpmw.OtelTracing(serviceName))
	router.Use(httpmw.CORS())

	gateways.NewGateway(hub, log).SetupRoutes(router)
	editors.RegisterRoutes(router, editorSvc, log)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": serviceName,
			"version": version,
			"hub":     hub.Stats(),
		})
	})

	if err := frontend.RegisterRoutes(router); err != nil {
		return nil, err
	}
	return router, nil
}

func printBanner(out io.Writer, tr *i18n.Translator, host string, port int, backend string) {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	hostPort := net.JoinHostPort(host, strconv.Itoa(port))

	fmt.Fprintln(out)
	fmt.Fprintln(out, tr.T("server.banner"))
	fmt.Fprintln(out, "  "+tr.Tf("server.listening", "http://"+hostPort))
	fmt.Fprintln(out, "  "+tr.Tf("server.websocket", "ws://"+hostPort+"/ws"))
	fmt.Fprintln(out, "  "+tr.Tf("server.health", "http://"+hostPort+"/health"))
	fmt.Fprintln(out, "  "+tr.Tf("server.backend", backend))
	fmt.Fprintln(out)
	fmt.Fprintln(out, tr.T("server.usage"))
}
