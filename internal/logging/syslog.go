// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"log/syslog"
)

// SyslogConfig configures an optional remote syslog sink for audit and
// daemon logs. Disabled by default; enabling it requires a Host.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility int // syslog facility number, 0-23
}

// DefaultSyslogConfig returns the conservative defaults: disabled, UDP 514.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "flywall",
		Facility: 1, // LOG_USER
	}
}

// SyslogWriter forwards log lines to a remote syslog server.
type SyslogWriter struct {
	w *syslog.Writer
}

// NewSyslogWriter dials the configured remote syslog server. Port, Protocol
// and Tag default the same way DefaultSyslogConfig does when left zero.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "flywall"
	}

	priority := syslog.Priority(cfg.Facility<<3) | syslog.LOG_INFO
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	w, err := syslog.Dial(cfg.Protocol, addr, priority, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog %s: %w", addr, err)
	}
	return &SyslogWriter{w: w}, nil
}

// Write implements io.Writer, forwarding raw log lines at info severity.
func (s *SyslogWriter) Write(p []byte) (int, error) {
	if err := s.w.Info(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close releases the underlying syslog connection.
func (s *SyslogWriter) Close() error {
	return s.w.Close()
}
