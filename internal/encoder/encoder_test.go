package encoder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faanross/simulacra_bmp/internal/bitpack"
	"github.com/faanross/simulacra_bmp/internal/bmptest"
	"github.com/faanross/simulacra_bmp/internal/capacity"
	"github.com/faanross/simulacra_bmp/internal/report"
	"github.com/faanross/simulacra_bmp/internal/spec"
)

func encodeFixture(t *testing.T, secretName string, secret []byte) (carrier, stego []byte, res *Result) {
	t.Helper()
	dir := t.TempDir()

	carrier = bmptest.Carrier(t, 64, 64, 7)
	job := Job{
		CarrierPath: bmptest.WriteFile(t, dir, "beautiful.bmp", carrier),
		SecretPath:  bmptest.WriteFile(t, dir, secretName, secret),
		OutputPath:  filepath.Join(dir, "stego.bmp"),
	}

	res, err := NewStegoEncoder(DefaultConfig(), nil).Encode(job)
	require.NoError(t, err)

	stego, err = os.ReadFile(job.OutputPath)
	require.NoError(t, err)
	return carrier, stego, res
}

func TestEncode_FrameLayout(t *testing.T) {
	carrier, stego, res := encodeFixture(t, "ab.txt", []byte("Hi!!!"))

	require.Len(t, stego, len(carrier))
	assert.Equal(t, ".txt", res.Extension)
	assert.Equal(t, int64(5), res.SecretSize)
	assert.Equal(t, int64(12288), res.CarrierSize)
	assert.Equal(t, int64(152), res.FrameBytes)
	assert.Equal(t, int64(12288-152), res.Budget)
	assert.Len(t, res.Fingerprint, 64)

	pix := stego[spec.BMP_HEADER_SIZE:]

	magic, err := bitpack.Extract(pix[0:16])
	require.NoError(t, err)
	assert.Equal(t, []byte("#*"), magic)

	assert.Equal(t, uint32(4), bitpack.UnpackUint32([32]byte(pix[16:48])))

	ext, err := bitpack.Extract(pix[48:80])
	require.NoError(t, err)
	assert.Equal(t, []byte(".txt"), ext)

	assert.Equal(t, uint32(5), bitpack.UnpackUint32([32]byte(pix[80:112])))

	secret, err := bitpack.Extract(pix[112:152])
	require.NoError(t, err)
	assert.Equal(t, []byte("Hi!!!"), secret)
}

func TestEncode_HeaderAndTailPreserved(t *testing.T) {
	carrier, stego, res := encodeFixture(t, "notes.txt", bytes.Repeat([]byte("secret "), 50))

	assert.Equal(t, carrier[:spec.BMP_HEADER_SIZE], stego[:spec.BMP_HEADER_SIZE])

	end := spec.BMP_HEADER_SIZE + int(res.FrameBytes)
	assert.Equal(t, carrier[end:], stego[end:])

	// only LSBs change inside the frame
	for i := spec.BMP_HEADER_SIZE; i < end; i++ {
		require.Equal(t, carrier[i]&0xFE, stego[i]&0xFE, "byte %d", i)
	}
}

func TestEncode_CapacityBoundary(t *testing.T) {
	limit := capacity.MaxSecret(12288, len(spec.MAGIC_STRING), len(".txt"))

	t.Run("exact fit", func(t *testing.T) {
		carrier, stego, res := encodeFixture(t, "big.txt", bytes.Repeat([]byte{0xA5}, int(limit)))
		assert.Equal(t, int64(0), res.Budget)
		assert.Equal(t, carrier[:spec.BMP_HEADER_SIZE], stego[:spec.BMP_HEADER_SIZE])
	})

	t.Run("one byte short", func(t *testing.T) {
		dir := t.TempDir()
		rec := &report.Recorder{}
		job := Job{
			CarrierPath: bmptest.WriteCarrier(t, dir, "c.bmp", 64, 64, 1),
			SecretPath:  bmptest.WriteFile(t, dir, "big.txt", bytes.Repeat([]byte{0xA5}, int(limit)+1)),
			OutputPath:  filepath.Join(dir, "out.bmp"),
		}

		_, err := NewStegoEncoder(DefaultConfig(), rec).Encode(job)
		require.ErrorIs(t, err, spec.ErrCapacity)

		stage, ok := spec.StageOf(err)
		require.True(t, ok)
		assert.Equal(t, spec.StageCapacity, stage)

		// nothing but the empty output file is left behind
		info, err := os.Stat(job.OutputPath)
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.Size())

		assert.Equal(t, []spec.Stage{spec.StageOpen}, rec.Stages())
	})
}

func TestEncode_StageOrder(t *testing.T) {
	dir := t.TempDir()
	rec := &report.Recorder{}
	job := Job{
		CarrierPath: bmptest.WriteCarrier(t, dir, "c.bmp", 16, 16, 3),
		SecretPath:  bmptest.WriteFile(t, dir, "a.sh", []byte("echo hi")),
		OutputPath:  filepath.Join(dir, "out.bmp"),
	}

	_, err := NewStegoEncoder(DefaultConfig(), rec).Encode(job)
	require.NoError(t, err)

	assert.Equal(t, []spec.Stage{
		spec.StageOpen,
		spec.StageCapacity,
		spec.StageHeader,
		spec.StageMagic,
		spec.StageExtensionSize,
		spec.StageExtension,
		spec.StageSecretSize,
		spec.StageSecretData,
		spec.StageTail,
	}, rec.Stages())
	assert.Contains(t, rec.Lines, "width = 16")
}

func TestEncode_OpenFailures(t *testing.T) {
	dir := t.TempDir()
	carrierPath := bmptest.WriteCarrier(t, dir, "c.bmp", 8, 8, 1)
	secretPath := bmptest.WriteFile(t, dir, "s.txt", []byte("x"))

	tests := []struct {
		name string
		job  Job
	}{
		{"missing carrier", Job{filepath.Join(dir, "nope.bmp"), secretPath, filepath.Join(dir, "o.bmp")}},
		{"missing secret", Job{carrierPath, filepath.Join(dir, "nope.txt"), filepath.Join(dir, "o.bmp")}},
		{"output dir missing", Job{carrierPath, secretPath, filepath.Join(dir, "no", "such", "o.bmp")}},
		{"output is carrier", Job{carrierPath, secretPath, carrierPath}},
		{"output is secret", Job{carrierPath, secretPath, secretPath}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStegoEncoder(DefaultConfig(), nil).Encode(tt.job)
			assert.ErrorIs(t, err, spec.ErrFileOpen)
		})
	}

	// the carrier must survive the refused overwrite
	info, err := os.Stat(carrierPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(spec.BMP_HEADER_SIZE))

	// and so must the secret
	secret, err := os.ReadFile(secretPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), secret)
}

func TestEncode_CarrierShorterThanHeader(t *testing.T) {
	dir := t.TempDir()
	job := Job{
		CarrierPath: bmptest.WriteFile(t, dir, "tiny.bmp", []byte("BM")),
		SecretPath:  bmptest.WriteFile(t, dir, "s.txt", nil),
		OutputPath:  filepath.Join(dir, "o.bmp"),
	}

	_, err := NewStegoEncoder(DefaultConfig(), nil).Encode(job)
	assert.ErrorIs(t, err, spec.ErrCapacity)
}

func TestSecretExtension(t *testing.T) {
	tests := map[string]string{
		"ab.txt":             ".txt",
		"dir.d/main.c":       ".c",
		"archive.tar.gz":     ".tar.gz",
		"Makefile":           "",
		"/tmp/x/.bashrc":     ".bashrc",
		"./scripts/build.sh": ".sh",
	}
	for path, want := range tests {
		assert.Equal(t, want, SecretExtension(path), path)
	}
}
