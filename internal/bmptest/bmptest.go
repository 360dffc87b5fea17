// Package bmptest builds 24-bit BMP fixtures for tests.
package bmptest

import (
	"bytes"
	"image"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

// Carrier returns an opaque width x height image encoded as a 24-bit BMP
// with a 54-byte header. Pixel values are pseudo-random from seed.
func Carrier(t testing.TB, width, height int, seed int64) []byte {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	return buf.Bytes()
}

// WriteFile writes data to dir/name and returns the path
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// WriteCarrier writes a Carrier fixture to dir/name and returns the path
func WriteCarrier(t testing.TB, dir, name string, width, height int, seed int64) string {
	t.Helper()
	return WriteFile(t, dir, name, Carrier(t, width, height, seed))
}
