package relay

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faanross/simulacra_bmp/internal/bmptest"
	"github.com/faanross/simulacra_bmp/internal/chunker"
	"github.com/faanross/simulacra_bmp/internal/decoder"
	"github.com/faanross/simulacra_bmp/internal/encoder"
)

const testDomain = "relay.test"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// stegoImage returns the bytes of a freshly encoded stego BMP hiding secret
func stegoImage(t *testing.T, secret string) []byte {
	t.Helper()
	dir := t.TempDir()

	job := encoder.Job{
		CarrierPath: bmptest.WriteCarrier(t, dir, "carrier.bmp", 32, 32, 9),
		SecretPath:  bmptest.WriteFile(t, dir, "secret.txt", []byte(secret)),
		OutputPath:  filepath.Join(dir, "stego.bmp"),
	}
	_, err := encoder.NewStegoEncoder(encoder.DefaultConfig(), nil).Encode(job)
	require.NoError(t, err)

	data, err := os.ReadFile(job.OutputPath)
	require.NoError(t, err)
	return data
}

// startDNS serves srv on a loopback UDP port and returns its address
func startDNS(t *testing.T, srv *DNSServer) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        pc,
		Handler:           srv,
		NotifyStartedFunc: func() { close(started) },
	}
	go server.ActivateAndServe()
	<-started
	t.Cleanup(func() { server.Shutdown() })

	return pc.LocalAddr().String()
}

type testRelay struct {
	storage *MemoryStorage
	client  *Client
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()

	storage := NewMemoryStorage()
	api := httptest.NewServer(NewRouter(NewAPI(storage, decoder.DefaultConfig(), quiet)))
	t.Cleanup(api.Close)

	dnsAddr := startDNS(t, NewDNSServer(testDomain, storage, quiet))

	opts := DefaultClientOptions()
	opts.Retries = 0
	opts.Timeout = 2 * time.Second
	opts.Parallel = 4

	return &testRelay{
		storage: storage,
		client:  NewClient(api.URL, dnsAddr, testDomain, opts, quiet),
	}
}

func chunked(t *testing.T, data []byte) *chunker.Message {
	t.Helper()
	msg, err := chunker.NewChunker(chunker.ChunkerConfig{}).ChunkMessage(data)
	require.NoError(t, err)
	return msg
}

func TestRelay_UploadInboxFetchDecode(t *testing.T) {
	relay := newTestRelay(t)
	ctx := context.Background()

	image := stegoImage(t, "meet at the usual place")
	msg := chunked(t, image)

	resp, err := relay.client.Upload(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, msg.Label(), resp.MessageID)
	assert.Equal(t, len(msg.Chunks), resp.Chunks)
	assert.Equal(t, len(image), resp.Size)

	ids, err := relay.client.Inbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{msg.Label()}, ids)

	// announced once per client
	ids, err = relay.client.Inbox(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	fetched, err := relay.client.Fetch(ctx, msg.Label())
	require.NoError(t, err)
	assert.Equal(t, image, fetched)

	dir := t.TempDir()
	stegoPath := filepath.Join(dir, "fetched.bmp")
	require.NoError(t, os.WriteFile(stegoPath, fetched, 0o600))

	res, err := decoder.NewStegoDecoder(decoder.DefaultConfig(), nil).Decode(stegoPath, filepath.Join(dir, "out"))
	require.NoError(t, err)
	secret, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "meet at the usual place", string(secret))
}

func TestRelay_UploadRejections(t *testing.T) {
	relay := newTestRelay(t)
	ctx := context.Background()

	// a plain carrier has no magic string
	plain := chunked(t, bmptest.Carrier(t, 32, 32, 1))
	_, err := relay.client.Upload(ctx, plain)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")

	msg := chunked(t, stegoImage(t, "once"))
	_, err = relay.client.Upload(ctx, msg)
	require.NoError(t, err)
	_, err = relay.client.Upload(ctx, msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	status, err := relay.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Stats.TotalMessages)
}

func TestRelay_UploadValidation(t *testing.T) {
	msg := chunked(t, stegoImage(t, "validate"))
	probe := decoder.DefaultConfig()

	good := NewUploadRequest(msg, testDomain)
	chunks, size, err := good.Validate(probe)
	require.NoError(t, err)
	assert.Len(t, chunks, len(msg.Chunks))
	assert.Equal(t, len(msg.Data), size)
	for label := range chunks {
		assert.False(t, strings.Contains(label, "."), label)
	}

	missing := NewUploadRequest(msg, testDomain)
	for name := range missing.Chunks {
		delete(missing.Chunks, name)
		break
	}
	_, _, err = missing.Validate(probe)
	assert.ErrorIs(t, err, ErrRejected)

	swapped := NewUploadRequest(msg, testDomain)
	first := chunker.ChunkLabel(0, msg.Label()) + "." + testDomain
	second := chunker.ChunkLabel(1, msg.Label()) + "." + testDomain
	swapped.Chunks[first], swapped.Chunks[second] = swapped.Chunks[second], swapped.Chunks[first]
	_, _, err = swapped.Validate(probe)
	assert.ErrorIs(t, err, ErrRejected)

	badManifest := NewUploadRequest(msg, testDomain)
	badManifest.Manifest = "1:00000000:0"
	_, _, err = badManifest.Validate(probe)
	assert.ErrorIs(t, err, ErrRejected)

	otherMagic := decoder.DefaultConfig()
	otherMagic.Magic = []byte("@@")
	_, _, err = good.Validate(otherMagic)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestRelay_HTTPDiscoveryAndConsume(t *testing.T) {
	relay := newTestRelay(t)
	ctx := context.Background()

	msg := chunked(t, stegoImage(t, "discover me"))
	_, err := relay.client.Upload(ctx, msg)
	require.NoError(t, err)

	ids, err := relay.client.Messages(ctx, "host-c")
	require.NoError(t, err)
	assert.Equal(t, []string{msg.Label()}, ids)

	ids, err = relay.client.Messages(ctx, "host-c")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, relay.client.Consume(ctx, msg.Label(), "host-c"))
	assert.Error(t, relay.client.Consume(ctx, "ffffffffffffffffffffffffffffffff", "host-c"))

	// consumed messages are not announced over DNS either
	inbox, err := relay.client.Inbox(ctx)
	require.NoError(t, err)
	assert.Empty(t, inbox)

	stats := relay.storage.GetStats()
	assert.Equal(t, 1, stats.Consumed)
}

func TestAPI_MessageStatus(t *testing.T) {
	storage := NewMemoryStorage()
	router := NewRouter(NewAPI(storage, decoder.DefaultConfig(), quiet))
	require.NoError(t, storage.StoreMessage(testMessage("aa")))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages/aa", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"new"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages/zz", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDNSServer_Answers(t *testing.T) {
	relay := newTestRelay(t)
	ctx := context.Background()

	msg := chunked(t, stegoImage(t, "dns"))
	_, err := relay.client.Upload(ctx, msg)
	require.NoError(t, err)

	manifest, err := relay.client.FetchManifest(ctx, msg.Label())
	require.NoError(t, err)
	assert.Equal(t, len(msg.Chunks), manifest.TotalChunks)
	assert.Equal(t, msg.Checksum(), manifest.Checksum)

	_, err = relay.client.FetchManifest(ctx, "ffffffffffffffffffffffffffffffff")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = relay.client.queryTXT(ctx, chunker.ChunkLabel(len(msg.Chunks), msg.Label()))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = relay.client.queryTXT(ctx, "www")
	assert.ErrorIs(t, err, ErrNotFound)

	// names outside the zone are refused
	m := new(dns.Msg)
	m.SetQuestion("example.org.", dns.TypeTXT)
	resp, _, err := relay.client.dns.ExchangeContext(ctx, m, relay.client.dnsAddr)
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)
}

func TestClient_FetchRejectsBadLabels(t *testing.T) {
	relay := newTestRelay(t)
	ctx := context.Background()

	for _, id := range []string{"", "../../etc/passwd", "inbox", "ffff"} {
		_, err := relay.client.Fetch(ctx, id)
		assert.Error(t, err, id)
		assert.NotErrorIs(t, err, ErrNotFound, id)
	}
}

func TestSplitTXT(t *testing.T) {
	assert.Equal(t, []string{""}, splitTXT(""))
	assert.Equal(t, []string{"abc"}, splitTXT("abc"))

	long := strings.Repeat("x", 600)
	parts := splitTXT(long)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 255)
	assert.Equal(t, long, strings.Join(parts, ""))
}
