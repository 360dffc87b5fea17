package chunker

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DNS record naming:
//
//	m-<label>.<domain>        manifest  "total:crc32:unix"
//	c-<seq>-<label>.<domain>  chunk     encoded chunk string
//
// label is the 32-hex message ID, so every label stays under 63 characters.
const (
	MANIFEST_PREFIX = "m-"
	CHUNK_PREFIX    = "c-"
	RECORD_TTL      = 300
)

// DNSRecord is a TXT record ready for a zone or a relay upload
type DNSRecord struct {
	Name  string // fully qualified, without trailing dot
	Type  string // always TXT
	TTL   int
	Value string
}

// Manifest tells a receiver how many chunks to expect and how to verify them
type Manifest struct {
	MessageID   string
	TotalChunks int
	Checksum    uint32 // CRC32 of the reassembled data
	Timestamp   time.Time
}

// String renders the TXT value
func (m Manifest) String() string {
	return fmt.Sprintf("%d:%08x:%d", m.TotalChunks, m.Checksum, m.Timestamp.Unix())
}

// ParseManifest reads a manifest TXT value for the given message
func ParseManifest(messageID, value string) (Manifest, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return Manifest{}, fmt.Errorf("manifest %q: expected total:checksum:timestamp", value)
	}

	total, err := strconv.Atoi(parts[0])
	if err != nil || total <= 0 || total > math.MaxUint16 {
		return Manifest{}, fmt.Errorf("manifest %q: bad chunk count", value)
	}
	sum, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %q: bad checksum", value)
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %q: bad timestamp", value)
	}

	return Manifest{
		MessageID:   messageID,
		TotalChunks: total,
		Checksum:    uint32(sum),
		Timestamp:   time.Unix(ts, 0),
	}, nil
}

// ManifestLabel is the first DNS label of a message's manifest record
func ManifestLabel(messageID string) string {
	return MANIFEST_PREFIX + messageID
}

// ChunkLabel is the first DNS label of chunk seq
func ChunkLabel(seq int, messageID string) string {
	return fmt.Sprintf("%s%d-%s", CHUNK_PREFIX, seq, messageID)
}

// ParseRecordLabel splits a first DNS label into its kind, sequence and message ID.
// Manifests report seq -1.
func ParseRecordLabel(label string) (manifest bool, seq int, messageID string, err error) {
	label = strings.ToLower(label)

	if id, ok := strings.CutPrefix(label, MANIFEST_PREFIX); ok {
		if _, err := ParseLabel(id); err != nil {
			return false, 0, "", err
		}
		return true, -1, id, nil
	}

	rest, ok := strings.CutPrefix(label, CHUNK_PREFIX)
	if !ok {
		return false, 0, "", fmt.Errorf("label %q is neither manifest nor chunk", label)
	}
	seqStr, id, ok := strings.Cut(rest, "-")
	if !ok {
		return false, 0, "", fmt.Errorf("chunk label %q has no message ID", label)
	}
	seq, err = strconv.Atoi(seqStr)
	if err != nil || seq < 0 {
		return false, 0, "", fmt.Errorf("chunk label %q has bad sequence", label)
	}
	if _, err := ParseLabel(id); err != nil {
		return false, 0, "", err
	}
	return false, seq, id, nil
}

// DNSEncoder turns chunked messages into TXT records under one domain
type DNSEncoder struct {
	domain string
}

// NewDNSEncoder creates an encoder for DNS transport
func NewDNSEncoder(domain string) *DNSEncoder {
	return &DNSEncoder{domain: strings.TrimSuffix(strings.ToLower(domain), ".")}
}

// Domain is the zone the records live in
func (de *DNSEncoder) Domain() string {
	return de.domain
}

// EncodeToDNS builds the manifest record followed by one record per chunk
func (de *DNSEncoder) EncodeToDNS(msg *Message) (Manifest, []DNSRecord) {
	manifest := Manifest{
		MessageID:   msg.Label(),
		TotalChunks: len(msg.Chunks),
		Checksum:    msg.Checksum(),
		Timestamp:   msg.CreatedAt,
	}

	records := make([]DNSRecord, 0, len(msg.Chunks)+1)
	records = append(records, DNSRecord{
		Name:  de.FQDN(ManifestLabel(manifest.MessageID)),
		Type:  "TXT",
		TTL:   RECORD_TTL,
		Value: manifest.String(),
	})

	for _, chunk := range msg.Chunks {
		records = append(records, DNSRecord{
			Name:  de.FQDN(ChunkLabel(int(chunk.Metadata.Sequence), manifest.MessageID)),
			Type:  "TXT",
			TTL:   RECORD_TTL,
			Value: chunk.Encoded,
		})
	}
	return manifest, records
}

// FQDN appends the domain to a label
func (de *DNSEncoder) FQDN(label string) string {
	return label + "." + de.domain
}

// GenerateZoneFile creates a BIND-compatible zone fragment
func GenerateZoneFile(records []DNSRecord, generated time.Time) string {
	var zone strings.Builder

	zone.WriteString("; simulacra_bmp relay zone\n")
	fmt.Fprintf(&zone, "; Generated: %s\n", generated.UTC().Format(time.RFC3339))
	fmt.Fprintf(&zone, "; Records: %d\n\n", len(records))

	for _, record := range records {
		fmt.Fprintf(&zone, "%s. %d IN %s \"%s\"\n", record.Name, record.TTL, record.Type, record.Value)
	}
	return zone.String()
}
