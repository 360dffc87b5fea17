package relay

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/miekg/dns"

	"github.com/faanross/simulacra_bmp/internal/chunker"
	"github.com/faanross/simulacra_bmp/internal/decoder"
)

// ParseZoneFile groups the manifest and chunk TXT records of a zone file
// (as written by chunker.GenerateZoneFile) into one upload per message.
// Records outside domain and non-TXT records are ignored.
func ParseZoneFile(r io.Reader, domain string) ([]UploadRequest, error) {
	origin := dns.Fqdn(strings.ToLower(domain))
	zp := dns.NewZoneParser(r, origin, "")

	byID := make(map[string]*UploadRequest)
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		txt, isTXT := rr.(*dns.TXT)
		if !isTXT {
			continue
		}
		name := strings.ToLower(txt.Hdr.Name)
		if !dns.IsSubDomain(origin, name) {
			continue
		}

		label, _, _ := strings.Cut(name, ".")
		isManifest, _, id, err := chunker.ParseRecordLabel(label)
		if err != nil {
			continue
		}

		req, exists := byID[id]
		if !exists {
			req = &UploadRequest{MessageID: id, Chunks: make(map[string]string)}
			byID[id] = req
		}
		value := strings.Join(txt.Txt, "")
		if isManifest {
			req.Manifest = value
		} else {
			req.Chunks[label] = value
		}
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("zone parse: %w", err)
	}

	uploads := make([]UploadRequest, 0, len(byID))
	for _, id := range slices.Sorted(maps.Keys(byID)) {
		uploads = append(uploads, *byID[id])
	}
	return uploads, nil
}

// LoadZone validates every message in a zone file and publishes it.
// It returns the IDs that were stored.
func LoadZone(storage Storage, r io.Reader, domain string, probe decoder.Config) ([]string, error) {
	uploads, err := ParseZoneFile(r, domain)
	if err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, fmt.Errorf("no messages found in zone file")
	}

	queue := NewQueueManager(storage)
	var stored []string
	for _, req := range uploads {
		chunks, size, err := req.Validate(probe)
		if err != nil {
			return stored, fmt.Errorf("message %s: %w", req.MessageID, err)
		}
		if err := queue.PublishMessage(req.MessageID, chunks, req.Manifest, size); err != nil {
			return stored, err
		}
		stored = append(stored, req.MessageID)
	}
	return stored, nil
}
