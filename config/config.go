// Package config is the thin external-config surface the core depends on:
// where each vendor binary lives and where the model cache writes its
// files. Loading config from disk, flags, or environment beyond the
// defaults below is a caller concern; this package only resolves the
// handful of values Runners and modelcache actually need, following the
// engine/cli EngineOptions functional-option idiom.
package config

import (
	"os"
	"path/filepath"
)

// Default binary names, resolved via exec.LookPath by each Runner unless
// overridden here.
const (
	defaultClaudeBinary   = "claude"
	defaultCodexBinary    = "codex"
	defaultGeminiBinary   = "gemini"
	defaultOpenCodeBinary = "opencode"
	defaultNpxBinary      = "npx"

	cacheSubdir = "conduit"
)

// Config holds resolved construction-time values for the Agent Runtime
// Core. Zero value is usable; Resolve fills in defaults for anything left
// empty.
type Config struct {
	ClaudeBinary   string
	CodexBinary    string
	GeminiBinary   string
	OpenCodeBinary string

	// NpxBinary names the npx executable for a Gemini invocation through
	// `npx @google/gemini-cli`. The geminiacp Runner does not read it; it
	// only looks up the gemini binary itself.
	NpxBinary string

	// CacheDir overrides the model-cache base directory. Empty means
	// os.UserCacheDir()/conduit.
	CacheDir string
}

// Option configures a Config at construction time.
type Option func(*Config)

func WithClaudeBinary(path string) Option {
	return func(c *Config) {
		if path != "" {
			c.ClaudeBinary = path
		}
	}
}

func WithCodexBinary(path string) Option {
	return func(c *Config) {
		if path != "" {
			c.CodexBinary = path
		}
	}
}

func WithGeminiBinary(path string) Option {
	return func(c *Config) {
		if path != "" {
			c.GeminiBinary = path
		}
	}
}

func WithOpenCodeBinary(path string) Option {
	return func(c *Config) {
		if path != "" {
			c.OpenCodeBinary = path
		}
	}
}

func WithCacheDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.CacheDir = dir
		}
	}
}

// Resolve builds a Config from opts, filling in binary-name and cache-dir
// defaults for anything left empty.
func Resolve(opts ...Option) Config {
	c := Config{
		ClaudeBinary:   defaultClaudeBinary,
		CodexBinary:    defaultCodexBinary,
		GeminiBinary:   defaultGeminiBinary,
		OpenCodeBinary: defaultOpenCodeBinary,
		NpxBinary:      defaultNpxBinary,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	if c.CacheDir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			c.CacheDir = filepath.Join(dir, cacheSubdir)
		}
	}
	return c
}
