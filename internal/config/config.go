// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

// Package config provides layered configuration loading for Classhub.
//
// Configuration is assembled from three sources in increasing priority:
// built-in defaults, an optional YAML config file, and environment
// variables. See LoadWithKoanf for details.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for a Classhub instance.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	NATS      NATSConfig      `koanf:"nats"`
	Security  SecurityConfig  `koanf:"security"`
	Chat      ChatConfig      `koanf:"chat"`
	Database  DatabaseConfig  `koanf:"database"`
	Directory DirectoryConfig `koanf:"directory"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// NATSConfig holds settings for the fan-out bus and the durable log.
// Both run over the same NATS deployment: core NATS subjects carry the
// fan-out traffic, a JetStream stream holds the durable event log.
type NATSConfig struct {
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	MaxMemory      int64         `koanf:"max_memory"`
	MaxStore       int64         `koanf:"max_store"`
	StreamName     string        `koanf:"stream_name"`
	RetentionDays  int           `koanf:"stream_retention_days"`
	DurableName    string        `koanf:"durable_name"`
	QueueGroup     string        `koanf:"queue_group"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	MaxReconnects  int           `koanf:"max_reconnects"`
}

// SecurityConfig holds credential validation settings.
type SecurityConfig struct {
	// JWTSecret signs and verifies connection credentials (HS256).
	// Required; minimum 32 characters.
	JWTSecret string `koanf:"jwt_secret"`
}

// ChatConfig holds message pipeline settings.
type ChatConfig struct {
	// DedupTTL bounds how long a self-delivery marker is remembered.
	DedupTTL time.Duration `koanf:"dedup_ttl"`

	// HistoryLimit is the number of persisted events replayed on join.
	HistoryLimit int `koanf:"history_limit"`

	// PersistBackoff is how long the persister pauses after a storage
	// write failure before resuming consumption.
	PersistBackoff time.Duration `koanf:"persist_backoff"`

	// SendRate and SendBurst bound per-connection inbound sends.
	SendRate  float64 `koanf:"send_rate"`
	SendBurst int     `koanf:"send_burst"`

	// MaxPayloadBytes caps the payload of a single chat event.
	MaxPayloadBytes int `koanf:"max_payload_bytes"`

	// AllowStudentSend permits students to publish into rooms they are
	// enrolled in. Off by default: students are receive-only.
	AllowStudentSend bool `koanf:"allow_student_send"`
}

// DatabaseConfig holds message store settings.
type DatabaseConfig struct {
	// Path is the BadgerDB directory for persisted chat events.
	Path string `koanf:"path"`

	// InMemory runs the store without disk persistence (tests only).
	InMemory bool `koanf:"in_memory"`
}

// DirectoryConfig describes the identity/room-membership store consulted
// during principal resolution. Mode "static" reads rooms and users from
// this config; deployments with an external directory implement the
// principal.Directory interface against it.
type DirectoryConfig struct {
	Mode string `koanf:"mode"`

	// BaseURL is the external directory endpoint, required when Mode
	// is "external".
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`

	Rooms []RoomConfig `koanf:"rooms"`
	Users []UserConfig `koanf:"users"`
}

// RoomConfig declares a room and its designated teachers and enrolled
// students for the static directory.
type RoomConfig struct {
	ID         string   `koanf:"id"`
	TeacherIDs []string `koanf:"teacher_ids"`
	StudentIDs []string `koanf:"student_ids"`
}

// UserConfig declares an identity for the static directory.
type UserConfig struct {
	ID       string `koanf:"id"`
	Role     string `koanf:"role"`
	Approved bool   `koanf:"approved"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			MaxMemory:      1 << 30,  // 1GB
			MaxStore:       10 << 30, // 10GB
			StreamName:     "CHAT_EVENTS",
			RetentionDays:  7,
			DurableName:    "chat-persister",
			QueueGroup:     "persisters",
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  -1,
		},
		Security: SecurityConfig{
			JWTSecret: "",
		},
		Chat: ChatConfig{
			DedupTTL:         60 * time.Second,
			HistoryLimit:     50,
			PersistBackoff:   60 * time.Second,
			SendRate:         5,
			SendBurst:        10,
			MaxPayloadBytes:  64 * 1024,
			AllowStudentSend: false,
		},
		Database: DatabaseConfig{
			Path:     "/data/classhub/messages",
			InMemory: false,
		},
		Directory: DirectoryConfig{
			Mode:    "static",
			Timeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for invalid or unsafe values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if c.NATS.StreamName == "" {
		return fmt.Errorf("nats.stream_name is required")
	}
	if c.NATS.RetentionDays < 1 {
		return fmt.Errorf("nats.stream_retention_days must be positive")
	}
	if c.Chat.DedupTTL <= 0 {
		return fmt.Errorf("chat.dedup_ttl must be positive")
	}
	if c.Chat.PersistBackoff <= 0 {
		return fmt.Errorf("chat.persist_backoff must be positive")
	}
	if c.Chat.HistoryLimit < 0 {
		return fmt.Errorf("chat.history_limit must not be negative")
	}
	if c.Chat.MaxPayloadBytes < 1 {
		return fmt.Errorf("chat.max_payload_bytes must be positive")
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		return fmt.Errorf("database.path is required unless database.in_memory is set")
	}
	switch c.Directory.Mode {
	case "static":
	case "external":
		if c.Directory.BaseURL == "" {
			return fmt.Errorf("directory.base_url is required when directory.mode is external")
		}
	default:
		return fmt.Errorf("directory.mode %q unknown (want static or external)", c.Directory.Mode)
	}
	for _, u := range c.Directory.Users {
		switch u.Role {
		case "admin", "teacher", "student":
		default:
			return fmt.Errorf("directory user %q has unknown role %q", u.ID, u.Role)
		}
	}
	return nil
}
