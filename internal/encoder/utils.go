package encoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/faanross/simulacra_bmp/internal/capacity"
	"github.com/faanross/simulacra_bmp/internal/carrier"
)

// SecretExtension returns the file name from its first '.' to the end, inclusive.
// Directories are ignored; a name without '.' has an empty extension.
func SecretExtension(path string) string {
	base := filepath.Base(path)
	idx := strings.Index(base, ".")
	if idx < 0 {
		return ""
	}
	return base[idx:]
}

// fileSize seeks to the end to learn the size, then rewinds to the start
func fileSize(f io.Seeker) (int64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

// refuseOverwrite stops the output from truncating an input it is read from
func refuseOverwrite(src *os.File, role, outputPath string) error {
	srcInfo, err := src.Stat()
	if err != nil {
		return err
	}
	outInfo, err := os.Stat(outputPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if os.SameFile(srcInfo, outInfo) {
		return fmt.Errorf("output %s is the %s", outputPath, role)
	}
	return nil
}

// describeCarrier reports the carrier header and capacity figures.
// The header is only read for display, never for the embedding itself.
func (r *encodeRun) describeCarrier(total int64) {
	info, err := carrier.Inspect(io.NewSectionReader(r.carrier, 0, int64(r.cfg.HeaderSize)), total)
	if err != nil {
		r.reporter.Infof("Carrier header unreadable: %v", err)
	} else {
		r.reporter.Infof("width = %d", info.Width)
		r.reporter.Infof("height = %d", info.Height)
		if !info.Plain24() {
			r.reporter.Infof("Warning: carrier is %d bpp, compression %d, pixel offset %d (expected plain 24-bit)",
				info.BitsPerPixel, info.Compression, info.PixelOffset)
		}
	}

	need := capacity.Required(len(r.cfg.Magic), len(r.extension), r.secretSize)
	r.reporter.Infof("Secret size: %d bytes (extension %q)", r.secretSize, r.extension)
	r.reporter.Infof("Carrier bytes: %d available, %d needed", r.carrierSize, need)
	if r.carrierSize > 0 {
		r.reporter.Infof("Utilization: %.1f%%", float64(need)*100/float64(r.carrierSize))
	}
}
