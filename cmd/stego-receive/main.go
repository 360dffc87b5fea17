package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/faanross/simulacra_bmp/internal/chunker"
	"github.com/faanross/simulacra_bmp/internal/config"
	"github.com/faanross/simulacra_bmp/internal/decoder"
	"github.com/faanross/simulacra_bmp/internal/relay"
	"github.com/faanross/simulacra_bmp/internal/report"
)

// Receiver retrieves stego images from the relay and optionally decodes them
type Receiver struct {
	client      *relay.Client
	outDir      string
	decode      bool
	probe       decoder.Config
	clientID    string
	interval    time.Duration
	acknowledge bool
}

// Retrieve fetches one message over DNS and saves it as a BMP
func (r *Receiver) Retrieve(ctx context.Context, msgID string) (string, error) {
	// the ID may come from an inbox answer and ends up in a file name
	if _, err := chunker.ParseLabel(msgID); err != nil {
		return "", err
	}
	fmt.Printf("\n📥 RETRIEVING MESSAGE: %s\n", msgID)

	start := time.Now()
	data, err := r.client.Fetch(ctx, msgID)
	if err != nil {
		return "", err
	}
	elapsed := time.Since(start)

	imagePath := filepath.Join(r.outDir, fmt.Sprintf("received_%s.bmp", msgID))
	if err := os.WriteFile(imagePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save: %w", err)
	}

	fmt.Printf("\n📊 RETRIEVAL SUMMARY:\n")
	fmt.Printf("   Size: %d bytes\n", len(data))
	fmt.Printf("   Time: %v\n", elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Printf("   Rate: %.2f KB/s\n", float64(len(data))/1024/elapsed.Seconds())
	}
	fmt.Printf("   Saved to: %s\n", imagePath)

	if r.decode {
		if err := r.decodeImage(imagePath, msgID); err != nil {
			return imagePath, err
		}
	}
	return imagePath, nil
}

func (r *Receiver) decodeImage(imagePath, msgID string) error {
	fmt.Printf("\n🔓 Decoding stego image...\n")

	base := filepath.Join(r.outDir, "decoded_"+msgID)
	res, err := decoder.NewStegoDecoder(r.probe, report.NewConsole(os.Stdout)).Decode(imagePath, base)
	if err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	fmt.Printf("✅ Secret saved to: %s (%d bytes, blake2b %s)\n", res.OutputPath, res.SecretSize, res.Fingerprint)
	return nil
}

// Poll checks the inbox until ctx is cancelled
func (r *Receiver) Poll(ctx context.Context) {
	fmt.Printf("\n👁️ POLLING MODE\n")
	fmt.Printf("   Poll interval: %v\n", r.interval)
	fmt.Println("\nWaiting for messages... (Press Ctrl+C to stop)")

	idle := 0
	for {
		ids, err := r.client.Inbox(ctx)
		if err != nil && ctx.Err() == nil {
			log.Printf("⚠️  Poll error: %v", err)
		}

		if len(ids) > 0 {
			idle = 0
			fmt.Printf("\n🔔 New messages: %v\n", ids)
			for _, id := range ids {
				if _, err := r.Retrieve(ctx, id); err != nil {
					log.Printf("❌ Failed to retrieve %s: %v", id, err)
					continue
				}
				if r.acknowledge {
					if err := r.client.Consume(ctx, id, r.clientID); err != nil {
						log.Printf("⚠️  Acknowledge %s: %v", id, err)
					}
				}
			}
		} else {
			idle++
		}

		// back off when the relay has been quiet for a while
		wait := r.interval
		if idle > 5 {
			wait *= 2
		}

		select {
		case <-ctx.Done():
			fmt.Println("\n🛑 Polling stopped")
			return
		case <-time.After(wait):
		}
	}
}

func main() {
	configPath := flag.String("config", "", "YAML config file")
	server := flag.String("server", "", "Relay DNS server host:port (overrides config)")
	api := flag.String("api", "", "Relay HTTP API base URL, used to acknowledge (overrides config)")
	domain := flag.String("domain", "", "Relay domain (overrides config)")
	msgID := flag.String("msg", "", "Message ID to retrieve")
	poll := flag.Bool("poll", false, "Poll the inbox for new messages")
	interval := flag.Duration("interval", 5*time.Second, "Poll interval")
	clientID := flag.String("client", "receiver1", "Client ID used when acknowledging")
	ack := flag.Bool("ack", false, "Acknowledge messages through the HTTP API after retrieval")
	decode := flag.Bool("decode", false, "Decode the secret after retrieval")
	output := flag.String("output", ".", "Output directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if *server != "" {
		cfg.Client.Server = *server
	}
	if *api != "" {
		cfg.Client.API = *api
	}
	if *domain != "" {
		cfg.Domain = *domain
	}

	fmt.Println("\n📡 STEGO RELAY RECEIVER")
	fmt.Printf("   Server: %s\n", cfg.Client.Server)
	fmt.Printf("   Domain: %s\n", cfg.Domain)

	probe := decoder.DefaultConfig()
	probe.Magic = []byte(cfg.Magic)

	receiver := &Receiver{
		client:      relay.NewClient(cfg.Client.API, cfg.Client.Server, cfg.Domain, clientOptions(cfg), nil),
		outDir:      *output,
		decode:      *decode,
		probe:       probe,
		clientID:    *clientID,
		interval:    *interval,
		acknowledge: *ack,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case *poll:
		receiver.Poll(ctx)
	case *msgID != "":
		if _, err := receiver.Retrieve(ctx, *msgID); err != nil {
			if errors.Is(err, relay.ErrNotFound) {
				log.Fatalf("❌ Message %s not found on the relay", *msgID)
			}
			log.Fatalf("❌ %v", err)
		}
		fmt.Println("\n✅ RETRIEVAL COMPLETE!")
	default:
		fmt.Println("Please specify -msg ID or -poll")
		flag.Usage()
		os.Exit(2)
	}
}

func clientOptions(cfg config.Config) relay.ClientOptions {
	opts := relay.DefaultClientOptions()
	opts.Parallel = cfg.Client.Parallel
	opts.Retries = cfg.Client.Retries
	opts.Timeout = cfg.Client.Timeout
	return opts
}
