package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kyunghyuncho/neurips-whisper/internal/api"
	apihandler "github.com/kyunghyuncho/neurips-whisper/internal/api/handler"
	"github.com/kyunghyuncho/neurips-whisper/internal/auth"
	"github.com/kyunghyuncho/neurips-whisper/internal/cache"
	"github.com/kyunghyuncho/neurips-whisper/internal/config"
	"github.com/kyunghyuncho/neurips-whisper/internal/model"
	"github.com/kyunghyuncho/neurips-whisper/internal/repository"
	"github.com/kyunghyuncho/neurips-whisper/internal/service"
	"github.com/kyunghyuncho/neurips-whisper/pkg/logger"
	"github.com/kyunghyuncho/neurips-whisper/pkg/tracing"
)

// logLinkSender stands in for the email collaborator: the magic link is
// logged instead of delivered.
type logLinkSender struct{}

func (logLinkSender) SendLoginLink(email, token string) error {
	logger.Info("magic link issued", zap.String("email", email), zap.String("token", token))
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Environment); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.SecretKey == "" {
		logger.Fatal("SECRET_KEY must be set")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Environment}); err != nil {
			logger.Fatal("init sentry", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, "neurips-whisper", cfg.Environment)
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	if err := db.AutoMigrate(&model.User{}, &model.Message{}, &model.Notification{}, &model.AuditLog{}, &model.BlacklistedEmail{}); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	messages := repository.NewMessageRepository(db)
	users := repository.NewUserRepository(db)
	notifications := repository.NewNotificationRepository(db)
	audit := repository.NewAuditRepository(db)

	activity := cache.NewActivityCache(rdb)

	// Startup barrier: the cache must be fully rebuilt before the first
	// trending read is served.
	rebuildStart := time.Now()
	if err := activity.Rebuild(ctx, messages, time.Now()); err != nil {
		logger.Fatal("rebuild activity cache", zap.Error(err))
	}
	logger.Info("activity cache rebuilt", zap.Duration("took", time.Since(rebuildStart)))

	recorder := service.NewActivityRecorder(activity, 10000)
	stopRecorder := recorder.Start(4)

	hub := service.NewHub(rdb)
	threads := service.NewThreadService(messages, users)
	feed := service.NewFeedService(messages, users, notifications, audit, recorder, hub, cfg.SuperUserSet())
	authMgr := auth.NewManager(cfg.SecretKey, cfg.SessionTTL)

	h := apihandler.New(feed, threads, activity, hub, notifications, audit, users, authMgr, logLinkSender{})
	router := api.NewRouter(cfg, h, authMgr, users)

	srv := newHTTPServer(ctx, cfg.ServerAddr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", cfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			// A straggler is still holding its connection open; cut it off.
			err = srv.Close()
		}
		// The recorder queue drains even when Shutdown failed.
		if stopErr := stopRecorder(shutdownCtx); err == nil {
			err = stopErr
		}
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newHTTPServer derives every request context from ctx. Live streams block
// until their request context cancels, so shutdown has to reach them
// through the connection context; Shutdown alone only closes listeners and
// waits.
func newHTTPServer(ctx context.Context, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     h,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

func openDB(url string) (*gorm.DB, error) {
	if strings.HasPrefix(url, "postgres") || strings.HasPrefix(url, "host=") {
		return gorm.Open(postgres.Open(url), &gorm.Config{})
	}
	return gorm.Open(sqlite.Open(url), &gorm.Config{})
}
