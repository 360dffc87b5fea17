// Package capacity decides whether a carrier has enough LSB slots for a frame.
package capacity

import (
	"fmt"
	"math"

	"github.com/faanross/simulacra_bmp/internal/spec"
)

// FrameSize returns the number of data bytes in a frame:
// magic + extension length + extension + secret length + secret
func FrameSize(magicLen, extLen int, secretLen int64) int64 {
	return int64(magicLen) + spec.LENGTH_FIELD_SIZE + int64(extLen) + spec.LENGTH_FIELD_SIZE + secretLen
}

// Required returns the number of carrier bytes needed to embed a frame
func Required(magicLen, extLen int, secretLen int64) int64 {
	return FrameSize(magicLen, extLen, secretLen) * spec.BITS_PER_BYTE
}

// Budget returns the carrier bytes left over after embedding; negative means it won't fit
func Budget(carrierBytes int64, magicLen, extLen int, secretLen int64) int64 {
	return carrierBytes - Required(magicLen, extLen, secretLen)
}

// Check succeeds iff carrierBytes >= Required(...)
func Check(carrierBytes int64, magicLen, extLen int, secretLen int64) error {
	if secretLen < 0 || extLen < 0 || magicLen < 0 {
		return fmt.Errorf("%w: negative field length", spec.ErrCapacity)
	}
	if secretLen > math.MaxUint32 || int64(extLen) > math.MaxUint32 {
		return fmt.Errorf("%w: field exceeds 32-bit length", spec.ErrCapacity)
	}

	if budget := Budget(carrierBytes, magicLen, extLen, secretLen); budget < 0 {
		return fmt.Errorf("%w: need %d carrier bytes, have %d",
			spec.ErrCapacity, Required(magicLen, extLen, secretLen), carrierBytes)
	}
	return nil
}

// MaxSecret returns the largest secret that fits in carrierBytes given the other fields
func MaxSecret(carrierBytes int64, magicLen, extLen int) int64 {
	n := carrierBytes/spec.BITS_PER_BYTE - FrameSize(magicLen, extLen, 0)
	if n < 0 {
		return 0
	}
	return n
}
