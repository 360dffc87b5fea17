package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/faanross/simulacra_bmp/internal/chunker"
)

// ClientOptions tunes the relay client
type ClientOptions struct {
	Parallel int           // concurrent chunk queries
	Retries  int           // extra attempts per query
	Timeout  time.Duration // per query
	Backoff  time.Duration // base delay between attempts
}

// DefaultClientOptions mirrors the relay's config defaults
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Parallel: 8,
		Retries:  3,
		Timeout:  5 * time.Second,
		Backoff:  500 * time.Millisecond,
	}
}

// Client uploads stego images over HTTP and retrieves them over DNS
type Client struct {
	apiURL  string
	dnsAddr string
	domain  string
	opts    ClientOptions

	http   *http.Client
	dns    *dns.Client
	logger *slog.Logger
}

// NewClient targets the relay's HTTP API at apiURL and its DNS server at dnsAddr
func NewClient(apiURL, dnsAddr, domain string, opts ClientOptions, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Client{
		apiURL:  strings.TrimSuffix(apiURL, "/"),
		dnsAddr: dnsAddr,
		domain:  strings.TrimSuffix(strings.ToLower(domain), "."),
		opts:    opts,
		http:    &http.Client{Timeout: 30 * time.Second},
		dns:     &dns.Client{Net: "udp", Timeout: opts.Timeout},
		logger:  logger.With("component", "client"),
	}
}

// Upload chunks a stego image and posts it to the relay
func (c *Client) Upload(ctx context.Context, msg *chunker.Message) (*UploadResponse, error) {
	body, err := json.Marshal(NewUploadRequest(msg, c.domain))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp UploadResponse
	if err := c.do(ctx, http.MethodPost, "/upload", bytes.NewReader(body), &resp); err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	c.logger.Info("uploaded", "message", resp.MessageID, "chunks", resp.Chunks)
	return &resp, nil
}

// Messages asks the HTTP API for messages this client has not seen
func (c *Client) Messages(ctx context.Context, clientID string) ([]string, error) {
	var resp MessagesResponse
	path := "/messages?client=" + url.QueryEscape(clientID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Consume acknowledges a message so it is no longer announced
func (c *Client) Consume(ctx context.Context, msgID, clientID string) error {
	body, err := json.Marshal(ConsumeRequest{MessageID: msgID, ClientID: clientID})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/consume", bytes.NewReader(body), nil)
}

// Status fetches relay statistics
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Inbox queries inbox.<domain> for new message IDs
func (c *Client) Inbox(ctx context.Context) ([]string, error) {
	values, err := c.queryTXT(ctx, INBOX_LABEL)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return values, err
}

// FetchManifest retrieves and parses m-<id>.<domain>
func (c *Client) FetchManifest(ctx context.Context, msgID string) (chunker.Manifest, error) {
	values, err := c.queryTXT(ctx, chunker.ManifestLabel(msgID))
	if err != nil {
		return chunker.Manifest{}, fmt.Errorf("manifest fetch failed: %w", err)
	}
	if len(values) == 0 {
		return chunker.Manifest{}, fmt.Errorf("manifest %s: %w", msgID, ErrNotFound)
	}
	return chunker.ParseManifest(msgID, values[0])
}

// Fetch retrieves the manifest, then all chunks in parallel, and reassembles them
func (c *Client) Fetch(ctx context.Context, msgID string) ([]byte, error) {
	msgID = strings.ToLower(msgID)
	if _, err := chunker.ParseLabel(msgID); err != nil {
		return nil, err
	}

	manifest, err := c.FetchManifest(ctx, msgID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("manifest retrieved", "message", msgID, "chunks", manifest.TotalChunks)

	var mu sync.Mutex
	encoded := make(map[int]string, manifest.TotalChunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallel)
	for seq := 0; seq < manifest.TotalChunks; seq++ {
		g.Go(func() error {
			values, err := c.queryTXT(gctx, chunker.ChunkLabel(seq, msgID))
			if err != nil {
				return fmt.Errorf("chunk %d: %w", seq, err)
			}
			if len(values) == 0 {
				return fmt.Errorf("chunk %d: %w", seq, ErrNotFound)
			}
			mu.Lock()
			encoded[seq] = values[0]
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data, err := Reassemble(manifest, encoded)
	if err != nil {
		return nil, fmt.Errorf("reassembly failed: %w", err)
	}
	c.logger.Info("message reassembled", "message", msgID, "bytes", len(data))
	return data, nil
}

// queryTXT resolves <label>.<domain> with retries; NXDOMAIN is not retried
func (c *Client) queryTXT(ctx context.Context, label string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(label+"."+c.domain), dns.TypeTXT)

	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.opts.Backoff):
			}
		}

		resp, _, err := c.dns.ExchangeContext(ctx, m, c.dnsAddr)
		if err != nil {
			lastErr = err
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
			return txtValues(resp), nil
		case dns.RcodeNameError:
			return nil, fmt.Errorf("%s: %w", label, ErrNotFound)
		default:
			lastErr = fmt.Errorf("%s: %s", label, dns.RcodeToString[resp.Rcode])
		}
	}
	return nil, lastErr
}

// txtValues joins the character-strings of each TXT answer
func txtValues(resp *dns.Msg) []string {
	var values []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			values = append(values, strings.Join(txt.Txt, ""))
		}
	}
	return values
}
