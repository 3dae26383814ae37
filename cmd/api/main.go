package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/admission"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/audit"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/auth"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/config"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/httpapi"
	"github.com/csps/CSPS-redesign-backend-sub001/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fatal("load .env", err)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		fatal("invalid configuration", err)
	}

	log, err := obs.NewLogger(cfg.LogLevel, cfg.Development())
	if err != nil {
		fatal("build logger", err)
	}
	defer func() { _ = log.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)
	if enabled, err := obs.InitSentry(cfg.SentryDSN, cfg.Env, version); err != nil {
		log.Warn("sentry disabled", zap.Error(err))
	} else if enabled {
		defer obs.FlushSentry(2 * time.Second)
	}

	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatal("open db", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		mem := auth.NewMemoryStore()
		if cfg.Development() {
			seedDevAccounts(log, mem)
		}
		store = mem
	}

	codec, err := auth.NewCodec(cfg.JWTSecret,
		auth.WithTokenTTL(cfg.AccessTTL),
		auth.WithTokenIssuer(cfg.JWTIssuer),
		auth.WithProfileStore(store.Profiles(context.Background())),
	)
	if err != nil {
		log.Fatal("token codec", zap.Error(err))
	}

	svcOpts := []auth.ServiceOption{
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithLogger(log.Named("auth")),
	}
	probe := httpapi.ReadyProbe{DB: db}
	var rdb *redis.Client
	if cfg.RefreshBackend == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		refresh := auth.NewRedisRefreshStore(rdb, "")
		svcOpts = append(svcOpts, auth.WithRefreshTokenStore(refresh))
		probe.Redis = refresh
	}
	svc, err := auth.NewService(store, codec, svcOpts...)
	if err != nil {
		log.Fatal("auth service", zap.Error(err))
	}

	limiter, err := admission.New(cfg.Admission, admission.WithLogger(log.Named("admission")))
	if err != nil {
		log.Fatal("admission controller", zap.Error(err))
	}

	auditOpts := []audit.Option{audit.WithLogger(log.Named("audit"))}
	if cfg.AuditAsyncBuffer > 0 {
		auditOpts = append(auditOpts, audit.WithAsync(cfg.AuditAsyncBuffer))
	}
	recorder := audit.NewRecorder(store.Audit(context.Background()), auditOpts...)

	api := httpapi.New(svc,
		httpapi.WithAdmission(limiter),
		httpapi.WithAuditRecorder(recorder),
		httpapi.WithReadyProbe(probe),
		httpapi.WithLogger(log),
		httpapi.WithVersion(version),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go limiter.Run(ctx)

	log.Info("starting csps-api",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
		zap.String("refresh_backend", cfg.RefreshBackend),
		zap.Bool("admission", cfg.Admission.Enabled),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	recorder.Close()
	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Info("stopped")
}

// seedDevAccounts gives an empty in-memory store one account per role.
func seedDevAccounts(log *zap.Logger, mem *auth.MemoryStore) {
	seeds := []struct {
		account  auth.Account
		identity auth.Identity
		password string
	}{
		{
			account:  auth.Account{ID: 1, Username: "student", Role: auth.RoleStudent, FirstName: "Demo", LastName: "Student"},
			identity: auth.StudentIdentity{StudentID: "00-0000-001"},
			password: "student-password",
		},
		{
			account:  auth.Account{ID: 2, Username: "admin", Role: auth.RoleAdmin, FirstName: "Demo", LastName: "Admin"},
			identity: auth.AdminIdentity{AdminID: 1, Position: "President"},
			password: "admin-password",
		},
	}
	for _, s := range seeds {
		hash, err := auth.HashPassword(s.password)
		if err != nil {
			log.Fatal("hash seed password", zap.Error(err))
		}
		s.account.PasswordHash = hash
		if err := mem.PutAccount(s.account, s.identity); err != nil {
			log.Fatal("seed account", zap.String("username", s.account.Username), zap.Error(err))
		}
	}
	log.Info("seeded development accounts", zap.Int("count", len(seeds)))
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "csps-api: %s: %v\n", msg, err)
	os.Exit(1)
}
