package decoder

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/faanross/simulacra_bmp/internal/bitpack"
	"github.com/faanross/simulacra_bmp/internal/report"
	"github.com/faanross/simulacra_bmp/internal/spec"
)

// Data bytes recovered per carrier read
const blockSize = 4096

// Config holds the immutable frame parameters; must match the encoder's
type Config struct {
	Magic      []byte
	HeaderSize int
}

// DefaultConfig uses the standard magic string and BMP header size
func DefaultConfig() Config {
	return Config{
		Magic:      []byte(spec.MAGIC_STRING),
		HeaderSize: spec.BMP_HEADER_SIZE,
	}
}

// Result describes an extracted secret
type Result struct {
	OutputPath  string
	Extension   string
	SecretSize  int64
	Fingerprint string
}

// StegoDecoder recovers a secret file from a stego BMP
type StegoDecoder struct {
	cfg      Config
	reporter report.Reporter
}

// NewStegoDecoder creates a decoder. A nil reporter discards status.
func NewStegoDecoder(cfg Config, reporter report.Reporter) *StegoDecoder {
	if reporter == nil {
		reporter = report.Discard
	}
	return &StegoDecoder{cfg: cfg, reporter: reporter}
}

// decodeRun is the state owned by a single Decode call
type decodeRun struct {
	cfg        Config
	stegoPath  string
	outputBase string

	stego *os.File
	out   *os.File
	src   *bufio.Reader
	dst   *bufio.Writer

	// carrier bytes not yet consumed after the header
	remaining int64

	extensionSize int64
	extension     string
	outputPath    string
	secretSize    int64
	digest        hash.Hash
}

// Decode extracts the secret from stegoPath into outputBase + decoded extension.
// The output file is created only after the magic string has been verified.
func (sd *StegoDecoder) Decode(stegoPath, outputBase string) (res *Result, err error) {
	run := &decodeRun{
		cfg:        sd.cfg,
		stegoPath:  stegoPath,
		outputBase: outputBase,
	}
	defer func() {
		if cerr := run.close(); cerr != nil && err == nil {
			err = spec.Fail(spec.StageSecretData, spec.ErrIO, cerr)
			res = nil
		}
	}()

	stages := []struct {
		stage spec.Stage
		fn    func() error
	}{
		{spec.StageOpen, run.openFile},
		{spec.StageHeader, run.skipHeader},
		{spec.StageMagic, run.decodeMagic},
		{spec.StageExtensionSize, run.decodeExtensionSize},
		{spec.StageExtension, run.decodeExtension},
		{spec.StageOutputFile, run.createOutput},
		{spec.StageSecretSize, run.decodeSecretSize},
		{spec.StageSecretData, run.decodeSecretData},
	}

	for _, s := range stages {
		if err := s.fn(); err != nil {
			sd.reporter.StageFailed(s.stage, err)
			return nil, err
		}
		sd.reporter.StageDone(s.stage)
	}

	return &Result{
		OutputPath:  run.outputPath,
		Extension:   run.extension,
		SecretSize:  run.secretSize,
		Fingerprint: hex.EncodeToString(run.digest.Sum(nil)),
	}, nil
}

func (r *decodeRun) openFile() error {
	var err error
	if r.stego, err = os.Open(r.stegoPath); err != nil {
		return spec.Fail(spec.StageOpen, spec.ErrFileOpen, err)
	}
	return nil
}

// skipHeader seeks past the header; nothing before it is read
func (r *decodeRun) skipHeader() error {
	st, err := r.stego.Stat()
	if err != nil {
		return spec.Fail(spec.StageHeader, spec.ErrIO, err)
	}
	if st.Size() < int64(r.cfg.HeaderSize) {
		return spec.Fail(spec.StageHeader, spec.ErrFormat,
			fmt.Errorf("file is %d bytes, shorter than the %d-byte header", st.Size(), r.cfg.HeaderSize))
	}
	if _, err := r.stego.Seek(int64(r.cfg.HeaderSize), io.SeekStart); err != nil {
		return spec.Fail(spec.StageHeader, spec.ErrIO, err)
	}

	r.remaining = st.Size() - int64(r.cfg.HeaderSize)
	r.src = bufio.NewReaderSize(r.stego, blockSize*spec.BITS_PER_BYTE)
	return nil
}

func (r *decodeRun) decodeMagic() error {
	magic, err := r.extract(spec.StageMagic, int64(len(r.cfg.Magic)))
	if err != nil {
		return err
	}
	if !bytes.Equal(magic, r.cfg.Magic) {
		return spec.Fail(spec.StageMagic, spec.ErrFormat, fmt.Errorf("decoded magic %q", magic))
	}
	return nil
}

func (r *decodeRun) decodeExtensionSize() error {
	size, err := r.extractUint32(spec.StageExtensionSize)
	if err != nil {
		return err
	}
	if err := r.fits(spec.StageExtensionSize, int64(size)); err != nil {
		return err
	}
	r.extensionSize = int64(size)
	return nil
}

func (r *decodeRun) decodeExtension() error {
	ext, err := r.extract(spec.StageExtension, r.extensionSize)
	if err != nil {
		return err
	}
	r.extension = string(ext)
	return nil
}

// createOutput opens outputBase + extension for writing
func (r *decodeRun) createOutput() error {
	name, err := OutputName(r.outputBase, r.extension)
	if err != nil {
		return spec.Fail(spec.StageOutputFile, spec.ErrName, err)
	}
	if r.out, err = os.Create(name); err != nil {
		return spec.Fail(spec.StageOutputFile, spec.ErrName, err)
	}
	r.outputPath = name
	r.dst = bufio.NewWriter(r.out)
	return nil
}

func (r *decodeRun) decodeSecretSize() error {
	size, err := r.extractUint32(spec.StageSecretSize)
	if err != nil {
		return err
	}
	if err := r.fits(spec.StageSecretSize, int64(size)); err != nil {
		return err
	}
	r.secretSize = int64(size)
	return nil
}

// decodeSecretData recovers the secret in blocks and writes it in order
func (r *decodeRun) decodeSecretData() error {
	r.digest, _ = blake2b.New256(nil)

	for remaining := r.secretSize; remaining > 0; {
		n := min(remaining, int64(blockSize))
		data, err := r.extract(spec.StageSecretData, n)
		if err != nil {
			return err
		}
		r.digest.Write(data)
		if _, err := r.dst.Write(data); err != nil {
			return spec.Fail(spec.StageSecretData, spec.ErrIO, err)
		}
		remaining -= n
	}

	if err := r.dst.Flush(); err != nil {
		return spec.Fail(spec.StageSecretData, spec.ErrIO, err)
	}
	return nil
}

// fits rejects a decoded length the rest of the carrier cannot hold
func (r *decodeRun) fits(stage spec.Stage, n int64) error {
	if n*spec.BITS_PER_BYTE > r.remaining {
		return spec.Fail(stage, spec.ErrFormat,
			fmt.Errorf("length %d needs %d carrier bytes, %d remain", n, n*spec.BITS_PER_BYTE, r.remaining))
	}
	return nil
}

// extract reads 8*n carrier bytes and unpacks n data bytes
func (r *decodeRun) extract(stage spec.Stage, n int64) ([]byte, error) {
	if err := r.fits(stage, n); err != nil {
		return nil, err
	}

	carrier := make([]byte, n*spec.BITS_PER_BYTE)
	if _, err := io.ReadFull(r.src, carrier); err != nil {
		return nil, readFailure(stage, err)
	}
	r.remaining -= int64(len(carrier))

	data, err := bitpack.Extract(carrier)
	if err != nil {
		return nil, spec.Fail(stage, spec.ErrIO, err)
	}
	return data, nil
}

// extractUint32 unpacks a 32-carrier-byte length field
func (r *decodeRun) extractUint32(stage spec.Stage) (uint32, error) {
	if r.remaining < spec.LENGTH_FIELD_BITS {
		return 0, spec.Fail(stage, spec.ErrFormat, errors.New("carrier ends inside a length field"))
	}

	var carrier [spec.LENGTH_FIELD_BITS]byte
	if _, err := io.ReadFull(r.src, carrier[:]); err != nil {
		return 0, readFailure(stage, err)
	}
	r.remaining -= spec.LENGTH_FIELD_BITS
	return bitpack.UnpackUint32(carrier), nil
}

func (r *decodeRun) close() error {
	if r.stego != nil {
		r.stego.Close()
	}
	if r.out != nil {
		return r.out.Close()
	}
	return nil
}

func readFailure(stage spec.Stage, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return spec.Fail(stage, spec.ErrFormat, fmt.Errorf("carrier truncated: %w", err))
	}
	return spec.Fail(stage, spec.ErrIO, err)
}
