package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/faanross/simulacra_bmp/internal/capacity"
	"github.com/faanross/simulacra_bmp/internal/carrier"
	"github.com/faanross/simulacra_bmp/internal/decoder"
	"github.com/faanross/simulacra_bmp/internal/encoder"
	"github.com/faanross/simulacra_bmp/internal/options"
	"github.com/faanross/simulacra_bmp/internal/report"
	"github.com/faanross/simulacra_bmp/internal/spec"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  bmpsteg -e <carrier.bmp> <secret> [output.bmp]   hide secret (default output %s)
  bmpsteg -d <stego.bmp> [output_base]             extract secret (default base %s)
  bmpsteg -analyze <image.bmp>                     header and LSB statistics

Options:
`, spec.DEFAULT_STEGO_NAME, spec.DEFAULT_SECRET_NAME)
	flag.PrintDefaults()
}

func main() {
	flag.Bool("e", false, "Encode a secret into a carrier")
	flag.Bool("d", false, "Decode a secret from a stego image")
	flag.Bool("analyze", false, "Analyze an image")
	magic := flag.String("magic", spec.MAGIC_STRING, "Marker written before the frame (must match on decode)")
	allow := flag.String("allow", strings.Join(spec.DEFAULT_SECRET_EXTENSIONS, ","), "Allowed secret extensions")
	plain := flag.Bool("plain", false, "Plain status lines even on a terminal")

	flag.Usage = usage
	flag.Parse()

	if *magic == "" {
		log.Fatal("❌ -magic must not be empty")
	}

	var reporter *report.Console
	if *plain {
		reporter = report.NewPlainConsole(os.Stdout)
	} else {
		reporter = report.NewConsole(os.Stdout)
	}

	switch selectedMode() {
	case options.ModeEncode:
		runEncode(flag.Args(), options.ParseAllowList(*allow), []byte(*magic), reporter)
	case options.ModeDecode:
		runDecode(flag.Args(), []byte(*magic), reporter)
	case options.ModeAnalyze:
		runAnalyze(flag.Args(), []byte(*magic))
	default:
		usage()
		os.Exit(2)
	}
}

// selectedMode returns the single mode switch given, or ModeUnsupported
func selectedMode() options.Mode {
	mode, count := options.ModeUnsupported, 0
	flag.Visit(func(f *flag.Flag) {
		if f.Value.String() != "true" {
			return
		}
		if m := options.ParseMode("-" + f.Name); m != options.ModeUnsupported {
			mode = m
			count++
		}
	})
	if count != 1 {
		return options.ModeUnsupported
	}
	return mode
}

func runEncode(args, allow []string, magic []byte, reporter report.Reporter) {
	opts, err := options.ParseEncode(args, allow)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	fmt.Println("\n🔐 BMP Steganography Encoder")
	fmt.Println("=" + strings.Repeat("=", 40))
	fmt.Printf("\n📷 Carrier: %s\n", opts.Carrier)
	fmt.Printf("📄 Secret:  %s\n", opts.Secret)
	fmt.Printf("💾 Output:  %s\n\n", opts.Output)

	cfg := encoder.DefaultConfig()
	cfg.Magic = magic

	res, err := encoder.NewStegoEncoder(cfg, reporter).Encode(encoder.Job{
		CarrierPath: opts.Carrier,
		SecretPath:  opts.Secret,
		OutputPath:  opts.Output,
	})
	if err != nil {
		log.Fatalf("❌ Encoding failed: %v", err)
	}

	fmt.Printf("\n✅ Encoding complete!\n")
	fmt.Printf("   Secret: %d bytes (extension %q)\n", res.SecretSize, res.Extension)
	fmt.Printf("   Carrier bytes used: %d of %d\n", res.FrameBytes, res.CarrierSize)
	fmt.Printf("   BLAKE2b-256: %s\n", res.Fingerprint)
}

func runDecode(args []string, magic []byte, reporter report.Reporter) {
	opts, err := options.ParseDecode(args)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	fmt.Println("\n🔓 BMP Steganography Decoder")
	fmt.Println("=" + strings.Repeat("=", 40))
	fmt.Printf("\n📷 Stego image: %s\n\n", opts.Stego)

	cfg := decoder.DefaultConfig()
	cfg.Magic = magic

	res, err := decoder.NewStegoDecoder(cfg, reporter).Decode(opts.Stego, opts.OutputBase)
	if err != nil {
		log.Fatalf("❌ Decoding failed: %v", err)
	}

	fmt.Printf("\n✅ Decoding complete!\n")
	fmt.Printf("   Output: %s (%d bytes)\n", res.OutputPath, res.SecretSize)
	fmt.Printf("   BLAKE2b-256: %s\n", res.Fingerprint)
}

func runAnalyze(args []string, magic []byte) {
	if len(args) != 1 {
		log.Fatal("❌ Please provide exactly one image to analyze")
	}
	path := args[0]

	info, stats, err := carrier.AnalyzeFile(path)
	if err != nil {
		log.Fatalf("❌ Analysis failed: %v", err)
	}

	fmt.Printf("\n🔍 IMAGE ANALYSIS: %s\n", path)
	fmt.Printf("   Dimensions: %dx%d\n", info.Width, info.Height)
	fmt.Printf("   Bits per pixel: %d\n", info.BitsPerPixel)
	fmt.Printf("   Compression: %d\n", info.Compression)
	fmt.Printf("   Pixel offset: %d\n", info.PixelOffset)
	fmt.Printf("   Decodable BMP: %v\n", info.Decodable)
	if !info.Plain24() {
		fmt.Println("   ⚠️  Not a plain 24-bit BMP; embedding may corrupt the image")
	}

	fmt.Printf("\n📊 LSB plane:\n")
	fmt.Printf("   Zeros: %.2f%%\n", stats.ZeroRatio())
	fmt.Printf("   Entropy: %.4f bits/byte (max 8.0)\n", stats.Entropy)
	fmt.Printf("   Capacity: %d secret bytes with a 4-byte extension\n",
		capacity.MaxSecret(info.PixelBytes(), len(magic), 4))

	cfg := decoder.DefaultConfig()
	cfg.Magic = magic
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("❌ Error opening file: %v", err)
	}
	defer f.Close()

	if err := decoder.Probe(f, cfg); err != nil {
		fmt.Printf("\n   No embedded frame found (%v)\n", err)
		return
	}
	fmt.Printf("\n   🎯 Magic string %q found: image carries an embedded frame\n", magic)
}
