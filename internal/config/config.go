// Package config gathers every runtime knob of the server in one place.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	DatabaseDSN   string // empty: in-memory danmaku, no chat archive
	RedisAddr     string // empty: in-memory rate limiting, no danmaku cache
	JWTSecret     string // empty: everyone is a guest
	AllowedOrigin string // empty or "*": any origin
	GeoLookup     bool

	LogLevel string
	LogJSON  bool

	Chat      Chat
	Danmaku   Danmaku
	RateLimit RateLimit
}

type Chat struct {
	MaxMessageLength int
	TypingTTL        time.Duration
	SendBuffer       int
}

type Danmaku struct {
	Tracks          int
	DisplayDuration time.Duration
	TieBucket       time.Duration
	SeekThreshold   time.Duration
	CacheTTL        time.Duration
}

type RateLimit struct {
	ConnectionsPerWindow int
	Window               time.Duration
}

func Default() Config {
	return Config{
		Addr:     ":3001",
		LogLevel: "info",
		Chat: Chat{
			MaxMessageLength: 500,
			TypingTTL:        6 * time.Second,
			SendBuffer:       256,
		},
		Danmaku: Danmaku{
			Tracks:          8,
			DisplayDuration: 12 * time.Second,
			TieBucket:       100 * time.Millisecond,
			SeekThreshold:   2 * time.Second,
			CacheTTL:        5 * time.Minute,
		},
		RateLimit: RateLimit{
			ConnectionsPerWindow: 10,
			Window:               time.Minute,
		},
	}
}

// FromEnv starts from Default and applies environment overrides.
func FromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Load is FromEnv with an injectable lookup.
func Load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("ADDR", &cfg.Addr)
	if port, ok := lookup("SOCKET_PORT"); ok && port != "" {
		cfg.Addr = ":" + port
	}
	str("DB_DSN", &cfg.DatabaseDSN)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("ALLOWED_ORIGIN", &cfg.AllowedOrigin)
	str("LOG_LEVEL", &cfg.LogLevel)

	var errs []error
	if v, ok := lookup("LOG_JSON"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_JSON: %w", err))
		}
		cfg.LogJSON = b
	}
	if v, ok := lookup("GEO_LOOKUP"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("GEO_LOOKUP: %w", err))
		}
		cfg.GeoLookup = b
	}
	if v, ok := lookup("DANMAKU_TRACKS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DANMAKU_TRACKS: %w", err))
		}
		cfg.Danmaku.Tracks = n
	}
	if v, ok := lookup("DANMAKU_DISPLAY_DURATION"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DANMAKU_DISPLAY_DURATION: %w", err))
		}
		cfg.Danmaku.DisplayDuration = d
	}
	if v, ok := lookup("TYPING_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TYPING_TTL: %w", err))
		}
		cfg.Chat.TypingTTL = d
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.Chat.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("chat max message length must be positive"))
	}
	if c.Chat.TypingTTL <= 0 {
		errs = append(errs, errors.New("typing ttl must be positive"))
	}
	if c.Chat.SendBuffer <= 0 {
		errs = append(errs, errors.New("send buffer must be positive"))
	}
	if c.Danmaku.Tracks <= 0 {
		errs = append(errs, errors.New("danmaku tracks must be positive"))
	}
	if c.Danmaku.DisplayDuration <= 0 {
		errs = append(errs, errors.New("danmaku display duration must be positive"))
	}
	if c.Danmaku.TieBucket <= 0 || c.Danmaku.SeekThreshold <= 0 {
		errs = append(errs, errors.New("danmaku tie bucket and seek threshold must be positive"))
	}
	if c.RateLimit.ConnectionsPerWindow <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	return errors.Join(errs...)
}
