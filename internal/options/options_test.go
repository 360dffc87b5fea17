package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faanross/simulacra_bmp/internal/spec"
)

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeEncode, ParseMode("-e"))
	assert.Equal(t, ModeDecode, ParseMode("-d"))
	assert.Equal(t, ModeAnalyze, ParseMode("analyze"))
	assert.Equal(t, ModeAnalyze, ParseMode("-analyze"))
	assert.Equal(t, ModeUnsupported, ParseMode("-x"))
	assert.Equal(t, ModeUnsupported, ParseMode("-plain"))
}

func TestParseEncode(t *testing.T) {
	allow := spec.DEFAULT_SECRET_EXTENSIONS

	opts, err := ParseEncode([]string{"beautiful.bmp", "secret.txt"}, allow)
	require.NoError(t, err)
	assert.Equal(t, Encode{"beautiful.bmp", "secret.txt", "stego.bmp"}, opts)

	opts, err = ParseEncode([]string{"img/a.bmp", "src/main.c", "out.bmp"}, allow)
	require.NoError(t, err)
	assert.Equal(t, "out.bmp", opts.Output)

	bad := map[string][]string{
		"too few args":      {"a.bmp"},
		"too many args":     {"a.bmp", "s.txt", "o.bmp", "x"},
		"carrier not bmp":   {"a.png", "s.txt"},
		"secret not listed": {"a.bmp", "s.exe"},
		"secret no ext":     {"a.bmp", "Makefile"},
		"output not bmp":    {"a.bmp", "s.txt", "o.png"},
	}
	for name, args := range bad {
		_, err := ParseEncode(args, allow)
		assert.ErrorIs(t, err, ErrUsage, name)
	}
}

func TestParseEncode_CustomAllowList(t *testing.T) {
	allow := ParseAllowList("md, .json,,")
	assert.Equal(t, []string{".md", ".json"}, allow)

	_, err := ParseEncode([]string{"a.bmp", "notes.md"}, allow)
	assert.NoError(t, err)

	_, err = ParseEncode([]string{"a.bmp", "notes.txt"}, allow)
	assert.ErrorIs(t, err, ErrUsage)
}

func TestParseDecode(t *testing.T) {
	opts, err := ParseDecode([]string{"stego.bmp"})
	require.NoError(t, err)
	assert.Equal(t, Decode{"stego.bmp", "out_secret"}, opts)

	opts, err = ParseDecode([]string{"stego.bmp", "restored"})
	require.NoError(t, err)
	assert.Equal(t, "restored", opts.OutputBase)

	_, err = ParseDecode(nil)
	assert.ErrorIs(t, err, ErrUsage)

	_, err = ParseDecode([]string{"stego.jpg"})
	assert.ErrorIs(t, err, ErrUsage)

	_, err = ParseDecode([]string{"stego.bmp", ""})
	assert.ErrorIs(t, err, ErrUsage)
}
