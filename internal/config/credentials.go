package config

import (
	"os"
	"sync/atomic"
)

const (
	// TokenEnv overrides backend.default_token at request time
	TokenEnv = "ANUNEKO_TOKEN"
	// CookieEnv overrides backend.cookie at request time
	CookieEnv = "ANUNEKO_COOKIE"
)

// Credentials is the per-request credential pair sent to the backend
type Credentials struct {
	Token  string
	Cookie string
}

// ResolveCredentials reads the runtime overrides on every call so a changed
// environment is picked up without a restart.
func (c *Config) ResolveCredentials() Credentials {
	creds := Credentials{
		Token:  c.Backend.DefaultToken,
		Cookie: c.Backend.Cookie,
	}
	if token, ok := os.LookupEnv(TokenEnv); ok {
		creds.Token = token
	}
	if cookie := os.Getenv(CookieEnv); cookie != "" {
		creds.Cookie = cookie
	}
	return creds
}

// Provider hands out the current configuration
type Provider interface {
	Current() *Config
}

// Live holds a configuration that can be swapped while requests are in flight
type Live struct {
	cfg atomic.Pointer[Config]
}

// NewLive creates a live holder seeded with cfg
func NewLive(cfg *Config) *Live {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	l := &Live{}
	l.cfg.Store(cfg)
	return l
}

// Current returns the active configuration. Callers must not mutate it.
func (l *Live) Current() *Config {
	return l.cfg.Load()
}

// Swap replaces the active configuration and returns the previous one
func (l *Live) Swap(cfg *Config) *Config {
	return l.cfg.Swap(cfg)
}

// Static wraps a fixed configuration as a Provider
type Static struct {
	Config *Config
}

// Current returns the wrapped configuration
func (s Static) Current() *Config {
	return s.Config
}
