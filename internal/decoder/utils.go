package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/faanross/simulacra_bmp/internal/bitpack"
	"github.com/faanross/simulacra_bmp/internal/spec"
)

// OutputName joins the caller's base name with a decoded extension.
// The extension comes from untrusted image data, so it may not carry
// path separators or NUL bytes, and the result is bounded in length.
func OutputName(base, extension string) (string, error) {
	if base == "" {
		return "", errors.New("empty output base name")
	}
	if strings.ContainsAny(extension, "/\\\x00") {
		return "", fmt.Errorf("decoded extension %q contains path characters", extension)
	}
	if strings.ContainsRune(base, 0) {
		return "", errors.New("output base name contains NUL")
	}

	name := base + extension
	if len(name) > spec.MAX_PATH_LEN {
		return "", fmt.Errorf("output name is %d bytes, limit is %d", len(name), spec.MAX_PATH_LEN)
	}
	return name, nil
}

// Probe checks that r starts with a header followed by the embedded magic string.
// Only the header and 8*len(magic) carrier bytes are read.
func Probe(r io.Reader, cfg Config) error {
	if _, err := io.CopyN(io.Discard, r, int64(cfg.HeaderSize)); err != nil {
		return readFailure(spec.StageHeader, err)
	}

	carrier := make([]byte, len(cfg.Magic)*spec.BITS_PER_BYTE)
	if _, err := io.ReadFull(r, carrier); err != nil {
		return readFailure(spec.StageMagic, err)
	}

	magic, err := bitpack.Extract(carrier)
	if err != nil {
		return spec.Fail(spec.StageMagic, spec.ErrIO, err)
	}
	if !bytes.Equal(magic, cfg.Magic) {
		return spec.Fail(spec.StageMagic, spec.ErrFormat, fmt.Errorf("decoded magic %q", magic))
	}
	return nil
}
