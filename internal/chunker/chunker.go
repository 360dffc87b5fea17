package chunker

import (
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ================================================================================
// DNS TXT Record Chunking
//
// A stego image is split into self-describing chunks small enough for a
// single TXT string. Each string has a 1-byte length prefix on the wire,
// so the encoded chunk (metadata + payload) must stay under 255 characters.
// ================================================================================

const (
	// MAX_DNS_STRING_SIZE is the TXT character-string limit
	MAX_DNS_STRING_SIZE = 255

	// SAFE_CHUNK_SIZE leaves a small margin under the protocol limit
	SAFE_CHUNK_SIZE = 250

	// METADATA_OVERHEAD is Magic(4) + MessageID(16) + Sequence(2) + Total(2) + Checksum(4)
	METADATA_OVERHEAD = 28

	// Raw payload bytes per chunk once metadata and payload are encoded together.
	// hex:    250/2 - 28 = 97
	// base32: 250*5/8 - 28 = 128
	PAYLOAD_PER_CHUNK_HEX = SAFE_CHUNK_SIZE/2 - METADATA_OVERHEAD
	PAYLOAD_PER_CHUNK_B32 = SAFE_CHUNK_SIZE*5/8 - METADATA_OVERHEAD

	ENCODE_HEX    = "hex"
	ENCODE_BASE32 = "base32"

	// CHUNK_MAGIC is "BMPS"
	CHUNK_MAGIC = 0x424D5053
)

var (
	ErrNoChunks      = errors.New("no chunks provided")
	ErrMixedMessages = errors.New("chunks from different messages")
	ErrIncomplete    = errors.New("incomplete message")
	ErrChecksum      = errors.New("chunk checksum mismatch")
	ErrBadChunk      = errors.New("malformed chunk")
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ChunkMetadata identifies a chunk within its message
type ChunkMetadata struct {
	Magic       uint32
	MessageID   uuid.UUID
	Sequence    uint16 // 0-based
	TotalChunks uint16
	Checksum    uint32 // CRC32 (IEEE) of the payload
}

// Chunk is a single DNS-ready fragment
type Chunk struct {
	Metadata ChunkMetadata
	Payload  []byte // raw bytes before encoding
	Encoded  string // TXT-ready string
}

// Message is a complete chunked payload
type Message struct {
	ID        uuid.UUID
	Data      []byte
	Chunks    []Chunk
	Encoding  string
	CreatedAt time.Time
}

// Label is the DNS-safe form of the message ID
func (m *Message) Label() string {
	return Label(m.ID)
}

// Checksum is the CRC32 of the whole message
func (m *Message) Checksum() uint32 {
	return crc32.ChecksumIEEE(m.Data)
}

// Label renders a message ID as 32 lowercase hex characters
func Label(id uuid.UUID) string {
	return hex.EncodeToString(id[:])
}

// ParseLabel reverses Label
func ParseLabel(label string) (uuid.UUID, error) {
	raw, err := hex.DecodeString(label)
	if err != nil || len(raw) != 16 {
		return uuid.Nil, fmt.Errorf("invalid message label %q", label)
	}
	return uuid.FromBytes(raw)
}

// ChunkerConfig selects the chunk encoding
type ChunkerConfig struct {
	Encoding string // hex or base32; empty means base32
}

// ChunkingStats tracks totals over the chunker's lifetime
type ChunkingStats struct {
	MessagesChunked  int
	TotalChunks      int
	TotalBytes       int
	LastChunkingTime time.Duration
}

// Chunker fragments and reassembles messages
type Chunker struct {
	config ChunkerConfig
	stats  ChunkingStats
}

// NewChunker creates a configured chunker instance
func NewChunker(config ChunkerConfig) *Chunker {
	if config.Encoding == "" {
		config.Encoding = ENCODE_BASE32
	}
	return &Chunker{config: config}
}

// PayloadSize is the raw payload carried by each chunk
func (c *Chunker) PayloadSize() int {
	if c.config.Encoding == ENCODE_HEX {
		return PAYLOAD_PER_CHUNK_HEX
	}
	return PAYLOAD_PER_CHUNK_B32
}

// ChunkMessage fragments data into DNS-ready chunks under a fresh message ID
func (c *Chunker) ChunkMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, errors.New("nothing to chunk")
	}
	start := time.Now()

	payloadSize := c.PayloadSize()
	total := (len(data) + payloadSize - 1) / payloadSize
	if total > math.MaxUint16 {
		return nil, fmt.Errorf("message too large: requires %d chunks (max %d)", total, math.MaxUint16)
	}

	msg := &Message{
		ID:        uuid.New(),
		Data:      data,
		Chunks:    make([]Chunk, 0, total),
		Encoding:  c.config.Encoding,
		CreatedAt: time.Now(),
	}

	for i := 0; i < total; i++ {
		end := min((i+1)*payloadSize, len(data))
		payload := data[i*payloadSize : end]

		meta := ChunkMetadata{
			Magic:       CHUNK_MAGIC,
			MessageID:   msg.ID,
			Sequence:    uint16(i),
			TotalChunks: uint16(total),
			Checksum:    crc32.ChecksumIEEE(payload),
		}
		msg.Chunks = append(msg.Chunks, Chunk{
			Metadata: meta,
			Payload:  payload,
			Encoded:  c.encodeChunk(meta, payload),
		})
	}

	c.stats.MessagesChunked++
	c.stats.TotalChunks += total
	c.stats.TotalBytes += len(data)
	c.stats.LastChunkingTime = time.Since(start)

	return msg, nil
}

// encodeChunk serializes [MAGIC][MSGID][SEQ][TOTAL][CRC][PAYLOAD] (big endian)
func (c *Chunker) encodeChunk(meta ChunkMetadata, payload []byte) string {
	raw := make([]byte, METADATA_OVERHEAD, METADATA_OVERHEAD+len(payload))
	binary.BigEndian.PutUint32(raw[0:4], meta.Magic)
	copy(raw[4:20], meta.MessageID[:])
	binary.BigEndian.PutUint16(raw[20:22], meta.Sequence)
	binary.BigEndian.PutUint16(raw[22:24], meta.TotalChunks)
	binary.BigEndian.PutUint32(raw[24:28], meta.Checksum)
	raw = append(raw, payload...)

	if c.config.Encoding == ENCODE_HEX {
		return hex.EncodeToString(raw)
	}
	return b32.EncodeToString(raw)
}

// DecodeChunk parses a TXT string back into a Chunk and verifies it
func (c *Chunker) DecodeChunk(encoded string) (*Chunk, error) {
	var raw []byte
	var err error

	switch c.config.Encoding {
	case ENCODE_HEX:
		raw, err = hex.DecodeString(encoded)
	default:
		raw, err = b32.DecodeString(strings.ToUpper(encoded))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadChunk, err)
	}

	if len(raw) < METADATA_OVERHEAD {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadChunk, len(raw))
	}

	meta := ChunkMetadata{
		Magic:       binary.BigEndian.Uint32(raw[0:4]),
		Sequence:    binary.BigEndian.Uint16(raw[20:22]),
		TotalChunks: binary.BigEndian.Uint16(raw[22:24]),
		Checksum:    binary.BigEndian.Uint32(raw[24:28]),
	}
	copy(meta.MessageID[:], raw[4:20])

	chunk := &Chunk{
		Metadata: meta,
		Payload:  raw[METADATA_OVERHEAD:],
		Encoded:  encoded,
	}
	if err := c.ValidateChunk(chunk); err != nil {
		return nil, err
	}
	return chunk, nil
}

// ValidateChunk checks magic, checksum, sequence bounds and payload size
func (c *Chunker) ValidateChunk(chunk *Chunk) error {
	meta := chunk.Metadata
	if meta.Magic != CHUNK_MAGIC {
		return fmt.Errorf("%w: magic %08x", ErrBadChunk, meta.Magic)
	}
	if got := crc32.ChecksumIEEE(chunk.Payload); got != meta.Checksum {
		return fmt.Errorf("%w: chunk %d expected %08x, got %08x", ErrChecksum, meta.Sequence, meta.Checksum, got)
	}
	if meta.Sequence >= meta.TotalChunks {
		return fmt.Errorf("%w: sequence %d out of bounds (total %d)", ErrBadChunk, meta.Sequence, meta.TotalChunks)
	}
	if len(chunk.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrBadChunk)
	}
	if len(chunk.Payload) > c.PayloadSize() {
		return fmt.Errorf("%w: payload %d > %d", ErrBadChunk, len(chunk.Payload), c.PayloadSize())
	}
	return nil
}

// ReassembleMessage rebuilds the data from chunks received in any order.
// Duplicate chunks are tolerated when identical.
func (c *Chunker) ReassembleMessage(chunks []Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	id := chunks[0].Metadata.MessageID
	total := chunks[0].Metadata.TotalChunks

	bySeq := make(map[uint16]Chunk, total)
	for _, chunk := range chunks {
		if chunk.Metadata.MessageID != id {
			return nil, fmt.Errorf("%w: %s vs %s", ErrMixedMessages, id, chunk.Metadata.MessageID)
		}
		if chunk.Metadata.TotalChunks != total {
			return nil, fmt.Errorf("%w: inconsistent total %d vs %d", ErrMixedMessages, total, chunk.Metadata.TotalChunks)
		}
		if err := c.ValidateChunk(&chunk); err != nil {
			return nil, err
		}
		bySeq[chunk.Metadata.Sequence] = chunk
	}

	if missing := FindMissing(bySeq, total); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing chunks %v", ErrIncomplete, missing)
	}

	ordered := make([]Chunk, 0, total)
	for _, chunk := range bySeq {
		ordered = append(ordered, chunk)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Metadata.Sequence < ordered[j].Metadata.Sequence
	})

	var data []byte
	for _, chunk := range ordered {
		data = append(data, chunk.Payload...)
	}
	return data, nil
}

// FindMissing lists the sequence numbers below total that are absent
func FindMissing(present map[uint16]Chunk, total uint16) []uint16 {
	var missing []uint16
	for i := uint16(0); i < total; i++ {
		if _, ok := present[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// GetStats returns chunking statistics
func (c *Chunker) GetStats() ChunkingStats {
	return c.stats
}

// Overhead is the metadata cost of a chunked message, as a percentage of its data
func Overhead(dataSize, totalChunks int) float64 {
	if dataSize == 0 {
		return 0
	}
	return float64(totalChunks*METADATA_OVERHEAD) / float64(dataSize) * 100
}
