// Package logging wires the decred/slog subsystem loggers of every package
// to one backend writing to stdout and, optionally, a rotating log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/decred/slog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Subsystem tags.
const (
	SubsystemChain     = "CHAN"
	SubsystemConsensus = "CONS"
	SubsystemEscrow    = "ESCR"
	SubsystemVM        = "VMEX"
	SubsystemRPC       = "RPCS"
	SubsystemIndexer   = "INDX"
	SubsystemEvents    = "EVNT"
	SubsystemNetwork   = "NETW"
	SubsystemNode      = "NODE"
)

// Config mirrors the "log" section of the node config.
type Config struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"max_size" mapstructure:"max_size"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age" mapstructure:"max_age"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Manager owns the backend and hands out per-subsystem loggers.
type Manager struct {
	backend *slog.Backend
	rotator *lumberjack.Logger
	level   slog.Level
	loggers map[string]slog.Logger
}

// New builds a Manager from cfg. An empty level means info.
func New(cfg Config) (*Manager, error) {
	level := slog.LevelInfo
	if cfg.Level != "" {
		lvl, ok := slog.LevelFromString(strings.ToLower(cfg.Level))
		if !ok {
			return nil, fmt.Errorf("unknown log level %q", cfg.Level)
		}
		level = lvl
	}

	var w io.Writer = os.Stdout
	var rotator *lumberjack.Logger
	if strings.TrimSpace(cfg.File) != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(os.Stdout, rotator)
	}

	return &Manager{
		backend: slog.NewBackend(w),
		rotator: rotator,
		level:   level,
		loggers: make(map[string]slog.Logger),
	}, nil
}

// Logger returns the logger for subsystem, creating it on first use.
func (m *Manager) Logger(subsystem string) slog.Logger {
	if l, ok := m.loggers[subsystem]; ok {
		return l
	}
	l := m.backend.Logger(subsystem)
	l.SetLevel(m.level)
	m.loggers[subsystem] = l
	return l
}

// SetLevel changes the level of every subsystem logger handed out so far.
func (m *Manager) SetLevel(level slog.Level) {
	m.level = level
	for _, l := range m.loggers {
		l.SetLevel(level)
	}
}

// Subsystems lists the tags handed out so far.
func (m *Manager) Subsystems() []string {
	subs := make([]string, 0, len(m.loggers))
	for s := range m.loggers {
		subs = append(subs, s)
	}
	sort.Strings(subs)
	return subs
}

// Close flushes and closes the rotating file, if any.
func (m *Manager) Close() error {
	if m.rotator == nil {
		return nil
	}
	return m.rotator.Close()
}
