package encoder

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/faanross/simulacra_bmp/internal/bitpack"
	"github.com/faanross/simulacra_bmp/internal/capacity"
	"github.com/faanross/simulacra_bmp/internal/report"
	"github.com/faanross/simulacra_bmp/internal/spec"
)

// Data bytes embedded per carrier read; carrier reads are 8x this
const blockSize = 4096

// Config holds the immutable frame parameters
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

// Job names the files of one encode run
type Job struct {
	CarrierPath string // source 24-bit BMP
	SecretPath  string // file to hide
	OutputPath  string // stego image to create (truncated if present)
}

// Result describes a finished encode
type Result struct {
	Extension   string
	SecretSize  int64
	CarrierSize int64 // pixel bytes available after the header
	FrameBytes  int64 // carrier bytes consumed by the frame
	Budget      int64 // carrier bytes left untouched
	Fingerprint string
}

// StegoEncoder hides a secret file in the LSBs of a BMP carrier
type StegoEncoder struct {
	cfg      Config
	reporter report.Reporter
}

// NewStegoEncoder creates an encoder. A nil reporter discards status.
func NewStegoEncoder(cfg Config, reporter report.Reporter) *StegoEncoder {
	if reporter == nil {
		reporter = report.Discard
	}
	return &StegoEncoder{cfg: cfg, reporter: reporter}
}

// encodeRun is the state owned by a single Encode call
type encodeRun struct {
	cfg      Config
	job      Job
	reporter report.Reporter

	carrier *os.File
	secret  *os.File
	stego   *os.File

	src    *bufio.Reader
	dst    *bufio.Writer
	block  []byte
	digest hash.Hash

	extension   string
	secretSize  int64
	carrierSize int64
}

// Encode runs the whole pipeline. Any stage failure aborts the run;
// the output file may then be left empty or partially written.
func (se *StegoEncoder) Encode(job Job) (res *Result, err error) {
	run := &encodeRun{
		cfg:      se.cfg,
		job:      job,
		reporter: se.reporter,
		block:    make([]byte, blockSize*spec.BITS_PER_BYTE),
	}
	defer func() {
		if cerr := run.close(); cerr != nil && err == nil {
			err = spec.Fail(spec.StageTail, spec.ErrIO, cerr)
			res = nil
		}
	}()

	stages := []struct {
		stage spec.Stage
		fn    func() error
	}{
		{spec.StageOpen, run.openFiles},
		{spec.StageCapacity, run.checkCapacity},
		{spec.StageHeader, run.copyHeader},
		{spec.StageMagic, run.encodeMagic},
		{spec.StageExtensionSize, run.encodeExtensionSize},
		{spec.StageExtension, run.encodeExtension},
		{spec.StageSecretSize, run.encodeSecretSize},
		{spec.StageSecretData, run.encodeSecretData},
		{spec.StageTail, run.copyRemaining},
	}

	for _, s := range stages {
		if err := s.fn(); err != nil {
			se.reporter.StageFailed(s.stage, err)
			return nil, err
		}
		se.reporter.StageDone(s.stage)
	}

	frameBytes := capacity.Required(len(se.cfg.Magic), len(run.extension), run.secretSize)
	return &Result{
		Extension:   run.extension,
		SecretSize:  run.secretSize,
		CarrierSize: run.carrierSize,
		FrameBytes:  frameBytes,
		Budget:      run.carrierSize - frameBytes,
		Fingerprint: hex.EncodeToString(run.digest.Sum(nil)),
	}, nil
}

// openFiles opens the carrier and secret for reading and creates the output
func (r *encodeRun) openFiles() error {
	var err error

	if r.carrier, err = os.Open(r.job.CarrierPath); err != nil {
		return spec.Fail(spec.StageOpen, spec.ErrFileOpen, err)
	}
	if r.secret, err = os.Open(r.job.SecretPath); err != nil {
		return spec.Fail(spec.StageOpen, spec.ErrFileOpen, err)
	}
	if err = refuseOverwrite(r.carrier, "carrier image", r.job.OutputPath); err != nil {
		return spec.Fail(spec.StageOpen, spec.ErrFileOpen, err)
	}
	if err = refuseOverwrite(r.secret, "secret file", r.job.OutputPath); err != nil {
		return spec.Fail(spec.StageOpen, spec.ErrFileOpen, err)
	}
	if r.stego, err = os.Create(r.job.OutputPath); err != nil {
		return spec.Fail(spec.StageOpen, spec.ErrFileOpen, err)
	}
	return nil
}

// checkCapacity sizes the inputs and refuses secrets that would not fit
func (r *encodeRun) checkCapacity() error {
	r.extension = SecretExtension(r.job.SecretPath)

	var err error
	if r.secretSize, err = fileSize(r.secret); err != nil {
		return spec.Fail(spec.StageCapacity, spec.ErrIO, err)
	}
	total, err := fileSize(r.carrier)
	if err != nil {
		return spec.Fail(spec.StageCapacity, spec.ErrIO, err)
	}
	r.carrierSize = total - int64(r.cfg.HeaderSize)

	r.describeCarrier(total)

	if err := capacity.Check(r.carrierSize, len(r.cfg.Magic), len(r.extension), r.secretSize); err != nil {
		return spec.Fail(spec.StageCapacity, spec.ErrCapacity, err)
	}

	r.src = bufio.NewReaderSize(r.carrier, len(r.block))
	r.dst = bufio.NewWriterSize(r.stego, len(r.block))
	r.digest, _ = blake2b.New256(nil)
	return nil
}

// copyHeader copies the fixed-size header verbatim
func (r *encodeRun) copyHeader() error {
	if _, err := io.CopyN(r.dst, r.src, int64(r.cfg.HeaderSize)); err != nil {
		return readFailure(spec.StageHeader, err)
	}
	return nil
}

func (r *encodeRun) encodeMagic() error {
	return r.embed(spec.StageMagic, r.cfg.Magic)
}

func (r *encodeRun) encodeExtensionSize() error {
	return r.embedUint32(spec.StageExtensionSize, uint32(len(r.extension)))
}

func (r *encodeRun) encodeExtension() error {
	return r.embed(spec.StageExtension, []byte(r.extension))
}

func (r *encodeRun) encodeSecretSize() error {
	return r.embedUint32(spec.StageSecretSize, uint32(r.secretSize))
}

// encodeSecretData streams the secret from offset 0 into the carrier
func (r *encodeRun) encodeSecretData() error {
	in := bufio.NewReader(r.secret)
	buf := make([]byte, blockSize)

	for remaining := r.secretSize; remaining > 0; {
		n := min(remaining, int64(blockSize))
		if _, err := io.ReadFull(in, buf[:n]); err != nil {
			return spec.Fail(spec.StageSecretData, spec.ErrIO,
				fmt.Errorf("secret shorter than %d bytes: %w", r.secretSize, err))
		}
		r.digest.Write(buf[:n])

		if err := r.embed(spec.StageSecretData, buf[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// copyRemaining copies the untouched pixel data after the frame
func (r *encodeRun) copyRemaining() error {
	if _, err := io.Copy(r.dst, r.src); err != nil {
		return spec.Fail(spec.StageTail, spec.ErrIO, err)
	}
	if err := r.dst.Flush(); err != nil {
		return spec.Fail(spec.StageTail, spec.ErrIO, err)
	}
	return nil
}

// embed reads 8 carrier bytes per data byte, packs, and writes them out.
// A carrier that ends early fails the stage even after the upfront check.
func (r *encodeRun) embed(stage spec.Stage, data []byte) error {
	for len(data) > 0 {
		n := min(len(data), blockSize)
		chunk := r.block[:n*spec.BITS_PER_BYTE]

		if _, err := io.ReadFull(r.src, chunk); err != nil {
			return readFailure(stage, err)
		}
		if err := bitpack.Embed(chunk, data[:n]); err != nil {
			return spec.Fail(stage, spec.ErrIO, err)
		}
		if _, err := r.dst.Write(chunk); err != nil {
			return spec.Fail(stage, spec.ErrIO, err)
		}
		data = data[n:]
	}
	return nil
}

// embedUint32 packs a length field into the next 32 carrier bytes
func (r *encodeRun) embedUint32(stage spec.Stage, v uint32) error {
	var carrier [spec.LENGTH_FIELD_BITS]byte
	if _, err := io.ReadFull(r.src, carrier[:]); err != nil {
		return readFailure(stage, err)
	}

	packed := bitpack.PackUint32(v, carrier)
	if _, err := r.dst.Write(packed[:]); err != nil {
		return spec.Fail(stage, spec.ErrIO, err)
	}
	return nil
}

// close closes every handle that was opened; the first output close error wins
func (r *encodeRun) close() error {
	if r.carrier != nil {
		r.carrier.Close()
	}
	if r.secret != nil {
		r.secret.Close()
	}
	if r.stego != nil {
		return r.stego.Close()
	}
	return nil
}

func readFailure(stage spec.Stage, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return spec.Fail(stage, spec.ErrCapacity, fmt.Errorf("carrier ended early: %w", err))
	}
	return spec.Fail(stage, spec.ErrIO, err)
}
