package relay

import (
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/faanross/simulacra_bmp/internal/chunker"
)

const (
	// INBOX_LABEL is queried as inbox.<domain> to list new message IDs
	INBOX_LABEL = "inbox"

	// INBOX_LIMIT keeps an inbox answer inside a plain 512-byte UDP reply
	INBOX_LIMIT = 8

	inboxTTL = 0
)

// DNSServer answers TXT queries for manifests, chunks and the inbox
type DNSServer struct {
	domain  string // lowercase FQDN with trailing dot
	storage Storage
	queue   *QueueManager
	logger  *slog.Logger
}

// NewDNSServer serves records under domain from storage
func NewDNSServer(domain string, storage Storage, logger *slog.Logger) *DNSServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DNSServer{
		domain:  dns.Fqdn(strings.ToLower(domain)),
		storage: storage,
		queue:   NewQueueManager(storage),
		logger:  logger.With("component", "dns"),
	}
}

// Server wraps the handler in a miekg/dns server; network is "udp" or "tcp"
func (s *DNSServer) Server(addr, network string) *dns.Server {
	return &dns.Server{
		Addr:    addr,
		Net:     network,
		Handler: s,
	}
}

// ServeDNS implements dns.Handler
func (s *DNSServer) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	msg.Compress = true

	for _, q := range r.Question {
		qname := strings.ToLower(q.Name)
		if !dns.IsSubDomain(s.domain, qname) {
			msg.Rcode = dns.RcodeRefused
			continue
		}
		if q.Qtype != dns.TypeTXT {
			continue
		}

		values, err := s.lookup(qname, clientID(w.RemoteAddr()))
		switch {
		case errors.Is(err, ErrNotFound):
			msg.Rcode = dns.RcodeNameError
		case err != nil:
			s.logger.Error("lookup failed", "name", qname, "err", err)
			msg.Rcode = dns.RcodeServerFailure
		default:
			for _, value := range values {
				msg.Answer = append(msg.Answer, txtRecord(q.Name, value.ttl, value.txt))
			}
		}
	}

	if err := w.WriteMsg(msg); err != nil {
		s.logger.Warn("write reply failed", "err", err)
	}
}

type answer struct {
	txt string
	ttl uint32
}

// lookup resolves a lowercase FQDN inside the served domain
func (s *DNSServer) lookup(qname, client string) ([]answer, error) {
	rel := strings.TrimSuffix(strings.TrimSuffix(qname, s.domain), ".")
	if rel == "" || strings.Contains(rel, ".") {
		return nil, ErrNotFound
	}

	if rel == INBOX_LABEL {
		return s.inbox(client)
	}

	isManifest, _, id, err := chunker.ParseRecordLabel(rel)
	if err != nil {
		return nil, ErrNotFound
	}

	if isManifest {
		msg, err := s.storage.GetMessage(id)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("served manifest", "message", id, "client", client)
		return []answer{{msg.Manifest, chunker.RECORD_TTL}}, nil
	}

	chunk, err := s.storage.GetChunk(id, rel)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("served chunk", "label", rel, "client", client)
	return []answer{{chunk, chunker.RECORD_TTL}}, nil
}

// inbox announces new messages to the querying client and marks them delivered
func (s *DNSServer) inbox(client string) ([]answer, error) {
	messages, err := s.queue.ConsumeMessages(client, INBOX_LIMIT)
	if err != nil {
		return nil, err
	}
	if len(messages) > 0 {
		s.logger.Info("inbox delivered", "client", client, "count", len(messages))
	}

	answers := make([]answer, 0, len(messages))
	for _, m := range messages {
		answers = append(answers, answer{m.ID, inboxTTL})
	}
	return answers, nil
}

func txtRecord(name string, ttl uint32, value string) *dns.TXT {
	return &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		Txt: splitTXT(value),
	}
}

// splitTXT breaks a value into character-strings of at most 255 bytes
func splitTXT(value string) []string {
	if value == "" {
		return []string{""}
	}
	var parts []string
	for len(value) > chunker.MAX_DNS_STRING_SIZE {
		parts = append(parts, value[:chunker.MAX_DNS_STRING_SIZE])
		value = value[chunker.MAX_DNS_STRING_SIZE:]
	}
	return append(parts, value)
}

// clientID identifies the querying resolver by IP
func clientID(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
