// Package gate authenticates inbound signal producers.
package gate

import (
	"errors"
	"strings"
)

// ErrUnauthorizedSource is returned for any missing or mismatched credential.
// Callers must reject the request before touching the signal store.
var ErrUnauthorizedSource = errors.New("unauthorized source")

// Entry pairs a shared-secret key with the source identifier allowed to use it.
type Entry struct {
	Key    string
	Source string
}

// SourceGate validates producer credentials against a fixed allow-list.
// The check is pure: exact match, no case folding, no partial matches.
type SourceGate struct {
	entries []Entry
}

// New builds a gate from allow-list entries. Entries with an empty key or
// source are dropped so a blank config can never allow-all.
func New(entries []Entry) *SourceGate {
	valid := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Key != "" && e.Source != "" {
			valid = append(valid, e)
		}
	}
	return &SourceGate{entries: valid}
}

// ParseEntries parses "key:source" pairs from config.
func ParseEntries(pairs []string) []Entry {
	entries := make([]Entry, 0, len(pairs))
	for _, p := range pairs {
		key, source, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		entries = append(entries, Entry{Key: key, Source: source})
	}
	return entries
}

// Authenticate checks the presented key and declared source against the
// allow-list. Both must match the same entry exactly.
func (g *SourceGate) Authenticate(key, source string) error {
	if key == "" || source == "" {
		return ErrUnauthorizedSource
	}
	for _, e := range g.entries {
		if e.Key == key && e.Source == source {
			return nil
		}
	}
	return ErrUnauthorizedSource
}
