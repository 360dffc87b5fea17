package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/faanross/simulacra_bmp/internal/spec"
)

// DNSConfig configures the TXT record server
type DNSConfig struct {
	Addr string `yaml:"addr"`
	Net  string `yaml:"net"` // udp or tcp
}

// HTTPConfig configures the upload API
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects and tunes message storage
type StorageConfig struct {
	Path          string        `yaml:"path"` // JSON file; empty keeps messages in memory
	TTL           time.Duration `yaml:"ttl"`
	CleanInterval time.Duration `yaml:"clean_interval"`
}

// ClientConfig tunes stego-send and stego-receive
type ClientConfig struct {
	API      string        `yaml:"api"` // base URL of the HTTP API
	Server   string        `yaml:"server"`
	Parallel int           `yaml:"parallel"`
	Retries  int           `yaml:"retries"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Config is the relay configuration shared by the server and clients
type Config struct {
	Domain  string        `yaml:"domain"`
	Magic   string        `yaml:"magic"`
	LogJSON bool          `yaml:"log_json"`
	DNS     DNSConfig     `yaml:"dns"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Client  ClientConfig  `yaml:"client"`
}

// Default returns a config that runs a local relay
func Default() Config {
	return Config{
		Domain: "covert.example.com",
		Magic:  spec.MAGIC_STRING,
		DNS: DNSConfig{
			Addr: ":5353",
			Net:  "udp",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Storage: StorageConfig{
			TTL:           24 * time.Hour,
			CleanInterval: time.Hour,
		},
		Client: ClientConfig{
			API:      "http://127.0.0.1:8080",
			Server:   "127.0.0.1:5353",
			Parallel: 8,
			Retries:  3,
			Timeout:  5 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once
func (c Config) Validate() error {
	var errs []error

	if c.Domain == "" || strings.ContainsAny(c.Domain, " /") {
		errs = append(errs, fmt.Errorf("domain %q is not a DNS name", c.Domain))
	}
	if c.Magic == "" {
		errs = append(errs, errors.New("magic must not be empty"))
	}
	if c.DNS.Net != "udp" && c.DNS.Net != "tcp" {
		errs = append(errs, fmt.Errorf("dns.net %q must be udp or tcp", c.DNS.Net))
	}
	if c.DNS.Addr == "" {
		errs = append(errs, errors.New("dns.addr must be set"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr must be set"))
	}
	if c.Storage.TTL <= 0 {
		errs = append(errs, errors.New("storage.ttl must be positive"))
	}
	if c.Storage.CleanInterval <= 0 {
		errs = append(errs, errors.New("storage.clean_interval must be positive"))
	}
	if c.Client.Parallel < 1 {
		errs = append(errs, errors.New("client.parallel must be at least 1"))
	}
	if c.Client.Retries < 0 {
		errs = append(errs, errors.New("client.retries must not be negative"))
	}
	if c.Client.Timeout <= 0 {
		errs = append(errs, errors.New("client.timeout must be positive"))
	}
	return errors.Join(errs...)
}
