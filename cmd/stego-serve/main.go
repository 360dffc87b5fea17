package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faanross/simulacra_bmp/internal/config"
	"github.com/faanross/simulacra_bmp/internal/decoder"
	"github.com/faanross/simulacra_bmp/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	domain := flag.String("domain", "", "Domain to serve (overrides config)")
	dnsAddr := flag.String("addr", "", "DNS listen address (overrides config)")
	httpAddr := flag.String("http", "", "HTTP API listen address (overrides config)")
	dataFile := flag.String("data", "", "Persist messages to this JSON file (overrides config)")
	zoneFile := flag.String("zone", "", "Zone file to load at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if *domain != "" {
		cfg.Domain = *domain
	}
	if *dnsAddr != "" {
		cfg.DNS.Addr = *dnsAddr
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *dataFile != "" {
		cfg.Storage.Path = *dataFile
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ %v", err)
	}

	logger := newLogger(cfg.LogJSON)

	var storage relay.Storage
	if cfg.Storage.Path != "" {
		fs, err := relay.NewFileStorage(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("❌ Failed to create file storage: %v", err)
		}
		storage = fs
	} else {
		storage = relay.NewMemoryStorage()
	}

	probe := decoder.DefaultConfig()
	probe.Magic = []byte(cfg.Magic)

	if *zoneFile != "" {
		f, err := os.Open(*zoneFile)
		if err != nil {
			log.Fatalf("❌ Failed to read zone file: %v", err)
		}
		ids, err := relay.LoadZone(storage, f, cfg.Domain, probe)
		f.Close()
		if err != nil {
			log.Fatalf("❌ Failed to load zone file: %v", err)
		}
		logger.Info("zone loaded", "file", *zoneFile, "messages", ids)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dnsServer := relay.NewDNSServer(cfg.Domain, storage, logger).Server(cfg.DNS.Addr, cfg.DNS.Net)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           relay.NewRouter(relay.NewAPI(storage, probe, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := dnsServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("dns server: %w", err)
		}
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go cleanLoop(ctx, storage, cfg.Storage.TTL, cfg.Storage.CleanInterval, logger)

	fmt.Printf("\n🌐 Stego relay starting\n")
	fmt.Printf("📍 Domain: %s\n", cfg.Domain)
	fmt.Printf("📡 DNS: %s/%s\n", cfg.DNS.Addr, cfg.DNS.Net)
	fmt.Printf("📤 HTTP API: %s\n", cfg.HTTP.Addr)
	if cfg.Storage.Path != "" {
		fmt.Printf("💾 Storage: %s\n", cfg.Storage.Path)
	} else {
		fmt.Println("💾 Storage: in-memory")
	}
	fmt.Printf("🧹 Cleanup: every %v, TTL %v\n", cfg.Storage.CleanInterval, cfg.Storage.TTL)
	printStats(storage)

	select {
	case <-ctx.Done():
		fmt.Println("\n🛑 Shutting down...")
	case err := <-errCh:
		logger.Error("server failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	dnsServer.ShutdownContext(shutdownCtx)

	if fs, ok := storage.(*relay.FileStorage); ok {
		if err := fs.Save(); err != nil {
			logger.Error("failed to save state", "err", err)
		} else {
			fmt.Println("💾 State saved to disk")
		}
	}
	printStats(storage)
}

func newLogger(asJSON bool) *slog.Logger {
	if asJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func cleanLoop(ctx context.Context, storage relay.Storage, ttl, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := storage.CleanExpired(ttl)
			if err != nil {
				logger.Error("cleanup failed", "err", err)
			}
			if removed > 0 {
				logger.Info("cleaned expired messages", "removed", removed)
			}
		}
	}
}

func printStats(storage relay.Storage) {
	stats := storage.GetStats()
	fmt.Printf("\n📊 Storage Statistics:\n")
	fmt.Printf("   Total messages: %d\n", stats.TotalMessages)
	fmt.Printf("   New (undelivered): %d\n", stats.NewMessages)
	fmt.Printf("   Delivered: %d\n", stats.Delivered)
	fmt.Printf("   Consumed: %d\n", stats.Consumed)
	fmt.Printf("   Total chunks: %d\n", stats.TotalChunks)

	messages, _ := storage.ListMessages()
	if len(messages) > 0 {
		fmt.Println("\n📬 Stored Messages:")
		for _, m := range messages {
			fmt.Printf("   %s: %d chunks, %d bytes, status=%s\n", m.ID, m.TotalChunks, m.Size, m.State)
		}
	}
}
