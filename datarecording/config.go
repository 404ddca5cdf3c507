package datarecording

import (
	"fmt"
	"strings"
)

// A RecorderConfig selects the backend of a DataRecorder.
type RecorderConfig struct {
	// Type is "sqlite" or "clickhouse". An empty type is "sqlite".
	Type string

	// Path is the SQLite file without its ".sqlite3" extension.
	Path string

	// DSN locates the ClickHouse server.
	DSN string
}

// ParseTarget turns a command-line target into a RecorderConfig. A target
// that starts with clickhouse:// is a ClickHouse DSN; anything else is a
// SQLite path.
func ParseTarget(target string) RecorderConfig {
	if strings.HasPrefix(target, "clickhouse://") {
		return RecorderConfig{Type: "clickhouse", DSN: target}
	}

	return RecorderConfig{Type: "sqlite", Path: target}
}

// NewWithConfig creates a DataRecorder with the selected backend.
func NewWithConfig(cfg RecorderConfig) (DataRecorder, error) {
	switch cfg.Type {
	case "", "sqlite":
		return New(cfg.Path)
	case "clickhouse":
		return NewClickHouseRecorder(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown recorder type %q", cfg.Type)
	}
}
