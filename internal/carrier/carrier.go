// Package carrier inspects BMP carriers without touching the embedding codec.
package carrier

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/image/bmp"

	"github.com/faanross/simulacra_bmp/internal/spec"
)

// ErrNotBMP is returned when the header does not start with "BM"
var ErrNotBMP = errors.New("not a BMP file")

// Info describes a bitmap header
type Info struct {
	Width        int
	Height       int
	BitsPerPixel int
	Compression  uint32
	PixelOffset  uint32
	FileSize     int64
	Decodable    bool // x/image/bmp accepts the header
}

// PixelBytes is the number of carrier bytes following the fixed header
func (i Info) PixelBytes() int64 {
	return i.FileSize - spec.BMP_HEADER_SIZE
}

// Plain24 reports whether the image is an uncompressed 24-bit bitmap
// with pixel data right after the fixed header
func (i Info) Plain24() bool {
	return i.BitsPerPixel == 24 && i.Compression == 0 && i.PixelOffset == spec.BMP_HEADER_SIZE
}

// Inspect reads the BMP header from r. size is the full file size.
func Inspect(r io.Reader, size int64) (Info, error) {
	header := make([]byte, spec.BMP_HEADER_SIZE)
	if _, err := io.ReadFull(r, header); err != nil {
		return Info{}, fmt.Errorf("reading header: %w", err)
	}

	if header[0] != 'B' || header[1] != 'M' {
		return Info{}, ErrNotBMP
	}

	// In BMP the pixel offset sits at 10, width at 18, height at 22,
	// bits per pixel at 28 and compression at 30
	info := Info{
		PixelOffset:  binary.LittleEndian.Uint32(header[10:14]),
		Width:        int(int32(binary.LittleEndian.Uint32(header[18:22]))),
		Height:       int(int32(binary.LittleEndian.Uint32(header[22:26]))),
		BitsPerPixel: int(binary.LittleEndian.Uint16(header[28:30])),
		Compression:  binary.LittleEndian.Uint32(header[30:34]),
		FileSize:     size,
	}
	if info.Height < 0 {
		info.Height = -info.Height // top-down bitmap
	}

	if _, err := bmp.DecodeConfig(bytes.NewReader(header)); err == nil {
		info.Decodable = true
	}

	return info, nil
}

// InspectFile opens path and inspects its header
func InspectFile(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	return Inspect(f, st.Size())
}

// LSBStats summarizes the least significant bit plane of pixel data
type LSBStats struct {
	Zeros   int
	Ones    int
	Entropy float64 // Shannon entropy of the LSB plane packed into bytes (max 8.0)
}

// ZeroRatio is the percentage of zero LSBs
func (s LSBStats) ZeroRatio() float64 {
	total := s.Zeros + s.Ones
	if total == 0 {
		return 0
	}
	return float64(s.Zeros) / float64(total) * 100
}

// AnalyzeLSB collects LSB statistics over pixel bytes
func AnalyzeLSB(pixels []byte) LSBStats {
	var stats LSBStats

	frequency := make(map[byte]int)
	var acc byte
	n := 0
	packed := 0

	for _, p := range pixels {
		bit := p & 1
		if bit == 0 {
			stats.Zeros++
		} else {
			stats.Ones++
		}

		acc |= bit << n
		n++
		if n == spec.BITS_PER_BYTE {
			frequency[acc]++
			packed++
			acc, n = 0, 0
		}
	}

	for _, count := range frequency {
		p := float64(count) / float64(packed)
		stats.Entropy -= p * math.Log2(p)
	}

	return stats
}

// AnalyzeFile reads the pixel data of a BMP and returns its LSB statistics
func AnalyzeFile(path string) (Info, LSBStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, LSBStats{}, err
	}

	info, err := Inspect(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Info{}, LSBStats{}, err
	}

	return info, AnalyzeLSB(data[spec.BMP_HEADER_SIZE:]), nil
}
