package options

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/faanross/simulacra_bmp/internal/encoder"
	"github.com/faanross/simulacra_bmp/internal/spec"
)

// ErrUsage marks arguments that do not form a valid command
var ErrUsage = errors.New("invalid arguments")

// Mode is the operation selected on the command line
type Mode int

const (
	ModeUnsupported Mode = iota
	ModeEncode
	ModeDecode
	ModeAnalyze
)

// Encode holds validated encode arguments
type Encode struct {
	Carrier string
	Secret  string
	Output  string
}

// Decode holds validated decode arguments
type Decode struct {
	Stego      string
	OutputBase string
}

// ParseMode maps the operation switch to a Mode
func ParseMode(flagValue string) Mode {
	switch flagValue {
	case "-e", "e", "encode":
		return ModeEncode
	case "-d", "d", "decode":
		return ModeDecode
	case "-analyze", "analyze":
		return ModeAnalyze
	default:
		return ModeUnsupported
	}
}

// ParseEncode validates <carrier.bmp> <secret> [output.bmp].
// The secret's extension must appear in allow.
func ParseEncode(args []string, allow []string) (Encode, error) {
	if len(args) < 2 || len(args) > 3 {
		return Encode{}, fmt.Errorf("%w: expected <carrier.bmp> <secret> [output.bmp], got %d arguments", ErrUsage, len(args))
	}

	opts := Encode{
		Carrier: args[0],
		Secret:  args[1],
		Output:  spec.DEFAULT_STEGO_NAME,
	}
	if len(args) == 3 {
		opts.Output = args[2]
	}

	if err := requireBMP("carrier", opts.Carrier); err != nil {
		return Encode{}, err
	}
	ext := encoder.SecretExtension(opts.Secret)
	if !slices.Contains(allow, ext) {
		return Encode{}, fmt.Errorf("%w: secret extension %q not in %v", ErrUsage, ext, allow)
	}
	if err := requireBMP("output", opts.Output); err != nil {
		return Encode{}, err
	}
	return opts, nil
}

// ParseDecode validates <stego.bmp> [output_base]
func ParseDecode(args []string) (Decode, error) {
	if len(args) < 1 || len(args) > 2 {
		return Decode{}, fmt.Errorf("%w: expected <stego.bmp> [output_base], got %d arguments", ErrUsage, len(args))
	}

	opts := Decode{
		Stego:      args[0],
		OutputBase: spec.DEFAULT_SECRET_NAME,
	}
	if len(args) == 2 {
		opts.OutputBase = args[1]
	}

	if err := requireBMP("stego image", opts.Stego); err != nil {
		return Decode{}, err
	}
	if opts.OutputBase == "" {
		return Decode{}, fmt.Errorf("%w: empty output base name", ErrUsage)
	}
	return opts, nil
}

// ParseAllowList splits a comma separated extension list, adding the
// leading '.' where it is missing
func ParseAllowList(list string) []string {
	var exts []string
	for _, ext := range strings.Split(list, ",") {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	return exts
}

func requireBMP(role, path string) error {
	if ext := encoder.SecretExtension(path); ext != spec.CARRIER_EXTENSION {
		return fmt.Errorf("%w: %s %q must have extension %s", ErrUsage, role, path, spec.CARRIER_EXTENSION)
	}
	return nil
}
