package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/faanross/simulacra_bmp/internal/chunker"
	"github.com/faanross/simulacra_bmp/internal/config"
	"github.com/faanross/simulacra_bmp/internal/decoder"
	"github.com/faanross/simulacra_bmp/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	api := flag.String("api", "", "Relay HTTP API base URL (overrides config)")
	domain := flag.String("domain", "", "Relay domain (overrides config)")
	input := flag.String("input", "", "Stego BMP to upload")
	zoneOut := flag.String("zone", "", "Write the DNS records to this zone file instead of uploading")
	encoding := flag.String("encoding", chunker.ENCODE_BASE32, "Chunk encoding for zone output (base32 or hex)")
	flag.Parse()

	if *input == "" {
		log.Fatal("❌ Please provide the stego image with -input")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if *api != "" {
		cfg.Client.API = *api
	}
	if *domain != "" {
		cfg.Domain = *domain
	}

	fmt.Println("\n🚀 STEGO RELAY UPLOADER")

	data, err := os.ReadFile(*input)
	if err != nil {
		log.Fatalf("❌ Failed to read image: %v", err)
	}

	probe := decoder.DefaultConfig()
	probe.Magic = []byte(cfg.Magic)
	if err := decoder.Probe(bytes.NewReader(data), probe); err != nil {
		log.Fatalf("❌ %s does not carry an embedded frame: %v", *input, err)
	}

	if *zoneOut != "" && *encoding != chunker.ENCODE_BASE32 && *encoding != chunker.ENCODE_HEX {
		log.Fatalf("❌ Unknown encoding %q", *encoding)
	}
	if *zoneOut == "" {
		*encoding = chunker.ENCODE_BASE32
	}

	chk := chunker.NewChunker(chunker.ChunkerConfig{Encoding: *encoding})
	msg, err := chk.ChunkMessage(data)
	if err != nil {
		log.Fatalf("❌ Failed to chunk: %v", err)
	}

	fmt.Printf("\n📊 CHUNKING ANALYSIS:\n")
	fmt.Printf("   Image: %s (%d bytes)\n", *input, len(data))
	fmt.Printf("   Encoding: %s\n", msg.Encoding)
	fmt.Printf("   Payload per chunk: %d bytes\n", chk.PayloadSize())
	fmt.Printf("   Chunks: %d\n", len(msg.Chunks))
	fmt.Printf("   Overhead: %.1f%%\n", chunker.Overhead(len(data), len(msg.Chunks)))
	fmt.Printf("   Message ID: %s\n", msg.Label())

	if *zoneOut != "" {
		_, records := chunker.NewDNSEncoder(cfg.Domain).EncodeToDNS(msg)
		zone := chunker.GenerateZoneFile(records, time.Now())
		if err := os.WriteFile(*zoneOut, []byte(zone), 0644); err != nil {
			log.Fatalf("❌ Failed to write zone file: %v", err)
		}
		fmt.Printf("\n✅ Zone file written: %s (%d records)\n", *zoneOut, len(records))
		fmt.Printf("   Load it with: stego-serve -zone %s -domain %s\n", *zoneOut, cfg.Domain)
		return
	}

	client := relay.NewClient(cfg.Client.API, cfg.Client.Server, cfg.Domain, clientOptions(cfg), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fmt.Printf("\n📤 Uploading to %s ...\n", cfg.Client.API)
	resp, err := client.Upload(ctx, msg)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	fmt.Println("\n🎉 Upload complete!")
	fmt.Printf("   Message ID: %s\n", resp.MessageID)
	fmt.Printf("   Chunks stored: %d\n", resp.Chunks)
	fmt.Printf("\nReceiver command:\n")
	fmt.Printf("  stego-receive -server %s -domain %s -msg %s\n", cfg.Client.Server, cfg.Domain, resp.MessageID)
}

func clientOptions(cfg config.Config) relay.ClientOptions {
	opts := relay.DefaultClientOptions()
	opts.Parallel = cfg.Client.Parallel
	opts.Retries = cfg.Client.Retries
	opts.Timeout = cfg.Client.Timeout
	return opts
}
