package bitpack

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/faanross/simulacra_bmp/internal/spec"
)

// ErrShortCarrier is returned when a carrier slice does not hold 8 bytes per data byte
var ErrShortCarrier = errors.New("carrier too short")

// EmbedBit modifies the LSB of a carrier byte to store a bit
func EmbedBit(carrierByte uint8, bit bool) uint8 {
	if bit {
		return carrierByte | 1
	}
	return carrierByte & 0xFE
}

// PackByte spreads b over the LSBs of 8 carrier bytes.
// Bit i of b lands in carrier[i]; bits 1-7 of every carrier byte are kept.
func PackByte(b byte, carrier [8]byte) [8]byte {
	for i := 0; i < spec.BITS_PER_BYTE; i++ {
		carrier[i] = EmbedBit(carrier[i], b&(1<<i) != 0)
	}
	return carrier
}

// UnpackByte collects the LSBs of 8 carrier bytes, carrier[0] being bit 0
func UnpackByte(carrier [8]byte) byte {
	var b byte
	for i := 0; i < spec.BITS_PER_BYTE; i++ {
		b |= (carrier[i] & 1) << i
	}
	return b
}

// PackUint32 spreads v over 32 carrier bytes, least significant bit first.
// This is the same as packing the little-endian encoding of v byte by byte.
func PackUint32(v uint32, carrier [spec.LENGTH_FIELD_BITS]byte) [spec.LENGTH_FIELD_BITS]byte {
	var le [spec.LENGTH_FIELD_SIZE]byte
	binary.LittleEndian.PutUint32(le[:], v)
	_ = Embed(carrier[:], le[:])
	return carrier
}

// UnpackUint32 reverses PackUint32
func UnpackUint32(carrier [spec.LENGTH_FIELD_BITS]byte) uint32 {
	var le [spec.LENGTH_FIELD_SIZE]byte
	for i := range le {
		le[i] = UnpackByte([8]byte(carrier[i*8 : i*8+8]))
	}
	return binary.LittleEndian.Uint32(le[:])
}

// Embed packs data into carrier in place. carrier must be exactly 8*len(data) bytes.
func Embed(carrier, data []byte) error {
	if len(carrier) != len(data)*spec.BITS_PER_BYTE {
		return fmt.Errorf("%w: have %d bytes, need %d",
			ErrShortCarrier, len(carrier), len(data)*spec.BITS_PER_BYTE)
	}
	for i, b := range data {
		packed := PackByte(b, [8]byte(carrier[i*8:i*8+8]))
		copy(carrier[i*8:], packed[:])
	}
	return nil
}

// Extract unpacks len(carrier)/8 data bytes. len(carrier) must be a multiple of 8.
func Extract(carrier []byte) ([]byte, error) {
	if len(carrier)%spec.BITS_PER_BYTE != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d",
			ErrShortCarrier, len(carrier), spec.BITS_PER_BYTE)
	}
	data := make([]byte, len(carrier)/spec.BITS_PER_BYTE)
	for i := range data {
		data[i] = UnpackByte([8]byte(carrier[i*8 : i*8+8]))
	}
	return data, nil
}
