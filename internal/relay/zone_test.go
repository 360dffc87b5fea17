package relay

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faanross/simulacra_bmp/internal/bmptest"
	"github.com/faanross/simulacra_bmp/internal/chunker"
	"github.com/faanross/simulacra_bmp/internal/decoder"
)

func zoneFor(t *testing.T, data []byte) (*chunker.Message, string) {
	t.Helper()
	msg := chunked(t, data)
	_, records := chunker.NewDNSEncoder(testDomain).EncodeToDNS(msg)
	return msg, chunker.GenerateZoneFile(records, time.Now())
}

func TestParseZoneFile(t *testing.T) {
	msg, zone := zoneFor(t, stegoImage(t, "zone"))
	zone += "www.relay.test. 300 IN A 192.0.2.1\n"
	zone += "c-0-" + msg.Label() + ".other.test. 300 IN TXT \"ignored\"\n"

	uploads, err := ParseZoneFile(strings.NewReader(zone), testDomain)
	require.NoError(t, err)
	require.Len(t, uploads, 1)

	up := uploads[0]
	assert.Equal(t, msg.Label(), up.MessageID)
	assert.Len(t, up.Chunks, len(msg.Chunks))
	assert.Equal(t, msg.Chunks[3].Encoded, up.Chunks[chunker.ChunkLabel(3, msg.Label())])

	manifest, err := chunker.ParseManifest(up.MessageID, up.Manifest)
	require.NoError(t, err)
	assert.Equal(t, len(msg.Chunks), manifest.TotalChunks)
}

func TestLoadZone(t *testing.T) {
	a, zoneA := zoneFor(t, stegoImage(t, "first"))
	b, zoneB := zoneFor(t, stegoImage(t, "second"))

	storage := NewMemoryStorage()
	ids, err := LoadZone(storage, strings.NewReader(zoneA+zoneB), testDomain, decoder.DefaultConfig())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.Label(), b.Label()}, ids)

	chunk, err := storage.GetChunk(a.Label(), chunker.ChunkLabel(0, a.Label()))
	require.NoError(t, err)
	assert.Equal(t, a.Chunks[0].Encoded, chunk)

	stats := storage.GetStats()
	assert.Equal(t, 2, stats.NewMessages)
	assert.Equal(t, len(a.Data)+len(b.Data), stats.TotalBytes)
}

func TestLoadZone_Rejects(t *testing.T) {
	_, plainZone := zoneFor(t, bmptest.Carrier(t, 32, 32, 2))
	_, err := LoadZone(NewMemoryStorage(), strings.NewReader(plainZone), testDomain, decoder.DefaultConfig())
	assert.ErrorIs(t, err, ErrRejected)

	_, err = LoadZone(NewMemoryStorage(), strings.NewReader("; empty\n"), testDomain, decoder.DefaultConfig())
	assert.Error(t, err)

	_, err = ParseZoneFile(strings.NewReader("bad line without type\n"), testDomain)
	assert.Error(t, err)
}
