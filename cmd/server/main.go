package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kasirinaja/dinein/internal/cache"
	"kasirinaja/dinein/internal/config"
	"kasirinaja/dinein/internal/httpapi"
	"kasirinaja/dinein/internal/payment"
	"kasirinaja/dinein/internal/realtime"
	"kasirinaja/dinein/internal/service"
	"kasirinaja/dinein/internal/settlement"
	"kasirinaja/dinein/internal/store"
	"kasirinaja/dinein/internal/store/memory"
	pgstore "kasirinaja/dinein/internal/store/postgres"
	"kasirinaja/dinein/internal/sweeper"
)

func main() {
	config.LoadDotEnv(os.Getenv("ENV_FILE"))
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatalf("postgres migration failed: %v", err)
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	hub := realtime.NewHub()
	go hub.Run(runCtx)

	settlementCache := cache.SettlementCache(cache.NoopSettlementCache{})
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisSettlementCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), events stay local and settlement cache is noop", err)
			_ = client.Close()
		} else {
			settlementCache = redisCache
			bridge := realtime.NewRedisBridge(client, "", hub)
			hub.SetRelay(bridge)
			go func() {
				if err := bridge.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("[realtime] WARN: redis bridge stopped: %v", err)
				}
			}()
			closers = append(closers, client.Close)
			log.Println("realtime: redis bridge, cache: redis")
		}
	} else {
		log.Println("realtime: local hub, cache: noop")
	}

	var source settlement.Source = settlement.NewRepoSource(repo)
	if cfg.SettlementBaseURL != "" {
		source = settlement.NewHTTPSource(cfg.SettlementBaseURL, 5*time.Second)
		log.Printf("settlement: polling %s", cfg.SettlementBaseURL)
	}
	source = settlement.NewCachedSource(source, settlementCache, cfg.SettlementCacheTTL)

	svc := service.New(repo, hub)
	reconciler := payment.NewReconciler(repo, source, realtime.NewManager(hub), svc, cfg.SettlementPollInterval)

	sweep := sweeper.New(svc, reconciler, cfg.SweepSchedule, cfg.EmptyOrderMaxAge)
	if err := sweep.Start(); err != nil {
		log.Fatalf("sweeper: %v", err)
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, hub, reconciler, httpapi.Options{
		AllowedOrigin:    cfg.AllowedOrigin,
		SettlementSecret: cfg.SettlementSecret,
		WaitTimeout:      cfg.PaymentWaitTimeout,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.PaymentWaitTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("dine-in backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	sweep.Stop()
	stop()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	// Reject all-same-digit PINs.
	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	// Reject ascending or descending sequential PINs (e.g. 123456, 987654).
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
