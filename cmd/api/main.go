package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authcenter.org/internal/authority"
	"authcenter.org/internal/httpapi"
	"authcenter.org/internal/logincode"
	"authcenter.org/internal/obs"
	"authcenter.org/internal/ratelimit"
	"authcenter.org/internal/telegram"
	"authcenter.org/internal/token"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("AUTHCENTER_JWT_SECRET")
	codec, err := token.NewCodec(secret)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	// Postgres when a DSN is set, in-memory otherwise. The in-memory
	// store is for local development only: every restart forgets users.
	var (
		store authority.Store
		db    *sql.DB
	)
	if dsn := os.Getenv("AUTHCENTER_PG_DSN"); dsn != "" {
		pg, err := authority.OpenPostgres(dsn)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		store = pg
		db = pg.DB()
	} else {
		log.Print("AUTHCENTER_PG_DSN not set, using in-memory store")
		store = authority.NewMemory()
	}

	svc, err := authority.NewService(store, codec)
	if err != nil {
		log.Fatalf("authority: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.EnsureBuiltins(ctx); err != nil {
		cancel()
		log.Fatalf("ensure builtin roles: %v", err)
	}
	cancel()

	botToken := os.Getenv("AUTHCENTER_TELEGRAM_BOT_TOKEN")
	bot := telegram.NewBot(botToken)
	verifier := telegram.NewVerifier(botToken)
	if !bot.Configured() {
		log.Print("AUTHCENTER_TELEGRAM_BOT_TOKEN not set, telegram login disabled")
	}

	limiter := ratelimit.New()
	stopJanitor := make(chan struct{})
	limiter.StartJanitor(time.Minute, stopJanitor)

	codes, err := logincode.NewManager(store, limiter, bot, bot)
	if err != nil {
		log.Fatalf("login codes: %v", err)
	}

	devMode := os.Getenv("AUTHCENTER_DEV_MODE") == "1"
	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, codes, verifier, codec, devMode)

	addr := os.Getenv("AUTHCENTER_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting auth-center %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	close(stopJanitor)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
