package relay

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/faanross/simulacra_bmp/internal/chunker"
	"github.com/faanross/simulacra_bmp/internal/decoder"
)

// ErrRejected marks an upload whose chunks do not rebuild a stego image
var ErrRejected = errors.New("upload rejected")

// Reassemble decodes chunks keyed by the sequence number they were served
// under and checks the result against the manifest's chunk count and checksum
func Reassemble(manifest chunker.Manifest, encoded map[int]string) ([]byte, error) {
	chk := chunker.NewChunker(chunker.ChunkerConfig{Encoding: chunker.ENCODE_BASE32})

	chunks := make([]chunker.Chunk, 0, len(encoded))
	for seq, value := range encoded {
		chunk, err := chk.DecodeChunk(value)
		if err != nil {
			return nil, err
		}
		if int(chunk.Metadata.Sequence) != seq {
			return nil, fmt.Errorf("%w: chunk %d served as %d", chunker.ErrBadChunk, chunk.Metadata.Sequence, seq)
		}
		if chunker.Label(chunk.Metadata.MessageID) != manifest.MessageID {
			return nil, fmt.Errorf("%w: chunk belongs to %s", chunker.ErrMixedMessages, chunker.Label(chunk.Metadata.MessageID))
		}
		if int(chunk.Metadata.TotalChunks) != manifest.TotalChunks {
			return nil, fmt.Errorf("%w: chunk says %d chunks, manifest says %d",
				chunker.ErrMixedMessages, chunk.Metadata.TotalChunks, manifest.TotalChunks)
		}
		chunks = append(chunks, *chunk)
	}

	data, err := chk.ReassembleMessage(chunks)
	if err != nil {
		return nil, err
	}
	if sum := crc32.ChecksumIEEE(data); sum != manifest.Checksum {
		return nil, fmt.Errorf("%w: message checksum %08x, manifest %08x", chunker.ErrChecksum, sum, manifest.Checksum)
	}
	return data, nil
}

// UploadRequest is the body of POST /upload
type UploadRequest struct {
	MessageID string            `json:"message_id"`
	Chunks    map[string]string `json:"chunks"` // record name or label -> encoded chunk
	Manifest  string            `json:"manifest"`
}

// Validate rebuilds the upload and probes it for the embedded magic string.
// On success the chunk map is keyed by first DNS label and the image size is returned.
func (req *UploadRequest) Validate(probe decoder.Config) (map[string]string, int, error) {
	req.MessageID = strings.ToLower(req.MessageID)
	if _, err := chunker.ParseLabel(req.MessageID); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	manifest, err := chunker.ParseManifest(req.MessageID, req.Manifest)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	chunks := make(map[string]string, len(req.Chunks))
	values := make(map[int]string, len(req.Chunks))
	for name, value := range req.Chunks {
		label, _, _ := strings.Cut(strings.ToLower(name), ".")
		isManifest, seq, id, err := chunker.ParseRecordLabel(label)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		if isManifest {
			continue
		}
		if id != req.MessageID || seq >= manifest.TotalChunks {
			return nil, 0, fmt.Errorf("%w: record %s does not belong to %s", ErrRejected, name, req.MessageID)
		}
		chunks[label] = value
		values[seq] = value
	}

	data, err := Reassemble(manifest, values)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err := decoder.Probe(bytes.NewReader(data), probe); err != nil {
		return nil, 0, fmt.Errorf("%w: not a stego image: %w", ErrRejected, err)
	}
	return chunks, len(data), nil
}

// NewUploadRequest builds the upload body for a chunked stego image
func NewUploadRequest(msg *chunker.Message, domain string) UploadRequest {
	manifest, records := chunker.NewDNSEncoder(domain).EncodeToDNS(msg)

	chunks := make(map[string]string, len(records)-1)
	for _, record := range records[1:] {
		chunks[record.Name] = record.Value
	}
	return UploadRequest{
		MessageID: manifest.MessageID,
		Chunks:    chunks,
		Manifest:  manifest.String(),
	}
}
