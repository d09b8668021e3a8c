package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// Config holds configuration for a client and its connection pool.
type Config struct {
	// Network is "tcp" or "unix". Defaults to "tcp".
	Network string

	// Addr is the host:port (tcp) or socket path (unix).
	Addr string

	// Username and Password are sent during the post-connect handshake.
	// An empty Username with a non-empty Password authenticates as the
	// default user.
	Username string
	Password string

	// DB is the logical database selected after connecting. Zero keeps the
	// server default.
	DB int

	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration

	// ReadTimeout and WriteTimeout bound each stream read and write.
	// Zero means no bound.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TLS enables TLS with the given options. Nil means plaintext.
	TLS *TLSOptions

	// MaxSize is the maximum number of pooled connections.
	// Required: must be > 0.
	MaxSize int32

	// CheckoutTimeout bounds the wait for a pooled connection. Exceeding it
	// fails with ErrPoolExhausted. Zero means the caller's context is the
	// only bound.
	CheckoutTimeout time.Duration

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can sit idle
	// before being closed. Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often idle connections are probed with
	// PING. Zero disables health checks.
	HealthCheckInterval time.Duration

	// Breaker enables a circuit breaker around pool operations.
	Breaker *BreakerConfig

	// Cache enables the client-side result cache.
	Cache *CacheConfig

	// Pool is the connection pool factory. Nil uses the channel pool.
	Pool PoolFactory

	// Logger receives diagnostics (listener panics, health-check failures,
	// reconnects). The zero value is silent.
	Logger zerolog.Logger

	// Test seams.
	dialer func(ctx context.Context) (net.Conn, error)
	pidFn  func() int
}

// DefaultConfig returns a configuration suitable for a local server.
func DefaultConfig(addr string) Config {
	return Config{
		Network:         "tcp",
		Addr:            addr,
		ConnectTimeout:  5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxSize:         10,
		CheckoutTimeout: 5 * time.Second,
		Logger:          zerolog.Nop(),
	}
}

func (c *Config) network() string {
	if c.Network == "" {
		return "tcp"
	}
	return c.Network
}

// TLSOptions describes the certificate material and policy for a TLS
// transport.
type TLSOptions struct {
	// CAFile and CAPath configure the trusted roots. When both are set the
	// file wins.
	CAFile string
	CAPath string

	// CertFile and KeyFile enable mutual TLS.
	CertFile string
	KeyFile  string

	// ServerName overrides the hostname used for verification.
	ServerName string

	// CipherSuites restricts the offered suites. Empty uses the defaults.
	CipherSuites []uint16

	// MinVersion is the protocol floor. Zero means TLS 1.2.
	MinVersion uint16

	// InsecureSkipVerify disables peer and hostname verification.
	InsecureSkipVerify bool
}

// Build translates the options into a *tls.Config.
func (o *TLSOptions) Build() (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         o.ServerName,
		CipherSuites:       o.CipherSuites,
		MinVersion:         o.MinVersion,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}

	switch {
	case o.CAFile != "":
		pem, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("redis: reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("redis: no certificates found in %s", o.CAFile)
		}
		cfg.RootCAs = pool
	case o.CAPath != "":
		pool := x509.NewCertPool()
		entries, err := os.ReadDir(o.CAPath)
		if err != nil {
			return nil, fmt.Errorf("redis: reading CA directory: %w", err)
		}
		loaded := 0
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(o.CAPath, entry.Name()))
			if err != nil {
				continue
			}
			if pool.AppendCertsFromPEM(pem) {
				loaded++
			}
		}
		if loaded == 0 {
			return nil, fmt.Errorf("redis: no certificates found in %s", o.CAPath)
		}
		cfg.RootCAs = pool
	}

	if o.CertFile != "" || o.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("redis: loading client key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// fileConfig is the TOML schema consumed by ConfigFromFile. Durations are
// strings in Go syntax ("5s", "250ms").
type fileConfig struct {
	Network             string `toml:"network"`
	Addr                string `toml:"addr"`
	Username            string `toml:"username"`
	Password            string `toml:"password"`
	DB                  int    `toml:"db"`
	ConnectTimeout      string `toml:"connect_timeout"`
	ReadTimeout         string `toml:"read_timeout"`
	WriteTimeout        string `toml:"write_timeout"`
	MaxSize             int32  `toml:"max_size"`
	CheckoutTimeout     string `toml:"checkout_timeout"`
	MaxConnLifetime     string `toml:"max_conn_lifetime"`
	MaxConnIdleTime     string `toml:"max_conn_idle_time"`
	HealthCheckInterval string `toml:"health_check_interval"`

	TLS *struct {
		CAFile             string `toml:"ca_file"`
		CAPath             string `toml:"ca_path"`
		CertFile           string `toml:"cert_file"`
		KeyFile            string `toml:"key_file"`
		ServerName         string `toml:"server_name"`
		InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	} `toml:"tls"`

	Breaker *struct {
		FailureThreshold uint32 `toml:"failure_threshold"`
		SuccessThreshold uint32 `toml:"success_threshold"`
		ResetTimeout     string `toml:"reset_timeout"`
	} `toml:"breaker"`

	Cache *struct {
		MaxEntries int `toml:"max_entries"`
	} `toml:"cache"`
}

// ConfigFromFile loads a Config from a TOML file. Fields absent from the
// file keep the DefaultConfig values.
func ConfigFromFile(path string) (Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return Config{}, fmt.Errorf("redis: decoding config: %w", err)
	}

	cfg := DefaultConfig(fc.Addr)
	if fc.Network != "" {
		cfg.Network = fc.Network
	}
	cfg.Username = fc.Username
	cfg.Password = fc.Password
	cfg.DB = fc.DB
	if fc.MaxSize > 0 {
		cfg.MaxSize = fc.MaxSize
	}

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{fc.ConnectTimeout, &cfg.ConnectTimeout},
		{fc.ReadTimeout, &cfg.ReadTimeout},
		{fc.WriteTimeout, &cfg.WriteTimeout},
		{fc.CheckoutTimeout, &cfg.CheckoutTimeout},
		{fc.MaxConnLifetime, &cfg.MaxConnLifetime},
		{fc.MaxConnIdleTime, &cfg.MaxConnIdleTime},
		{fc.HealthCheckInterval, &cfg.HealthCheckInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("redis: invalid duration %q: %w", d.raw, err)
		}
		*d.dst = v
	}

	if fc.TLS != nil {
		cfg.TLS = &TLSOptions{
			CAFile:             fc.TLS.CAFile,
			CAPath:             fc.TLS.CAPath,
			CertFile:           fc.TLS.CertFile,
			KeyFile:            fc.TLS.KeyFile,
			ServerName:         fc.TLS.ServerName,
			InsecureSkipVerify: fc.TLS.InsecureSkipVerify,
		}
	}
	if fc.Breaker != nil {
		bc := BreakerConfig{
			FailureThreshold: fc.Breaker.FailureThreshold,
			SuccessThreshold: fc.Breaker.SuccessThreshold,
		}
		if fc.Breaker.ResetTimeout != "" {
			v, err := time.ParseDuration(fc.Breaker.ResetTimeout)
			if err != nil {
				return Config{}, fmt.Errorf("redis: invalid duration %q: %w", fc.Breaker.ResetTimeout, err)
			}
			bc.ResetTimeout = v
		}
		cfg.Breaker = &bc
	}
	if fc.Cache != nil {
		cfg.Cache = &CacheConfig{MaxEntries: fc.Cache.MaxEntries}
	}

	return cfg, nil
}
