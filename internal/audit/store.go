// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package audit persists a append-only trail of privileged daemon
// operations (network create/destroy, permission grants, allowlist
// replacement) independent of the structured log stream.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Event is a single audit record, stored one JSON object per line.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	User      string         `json:"user,omitempty"`
	Session   string         `json:"session,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Status    int            `json:"status"`
	IP        string         `json:"ip,omitempty"`
}

// Store appends audit events to a JSON-lines file on disk.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore opens (creating if necessary) the audit log at path.
func NewStore(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &Store{path: path}, nil
}

// Write appends one event to the store.
func (s *Store) Write(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	if err := enc.Encode(e); err != nil {
		return err
	}
	return w.Flush()
}
