// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides the durable key-value store backing conversation
// threads and the media download cache, built on sqlite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// =============================================================================
// KV STORE
// =============================================================================

// KV is a sqlite-backed blob store. Values are opaque to this package;
// callers own serialization.
type KV struct {
	db *sql.DB
}

// Options control store construction.
type Options struct {
	// SkipCheck skips the connectivity check at construction. Without it,
	// an unreachable or unwritable database refuses to initialize.
	SkipCheck bool
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS downloads (
	key              TEXT PRIMARY KEY,
	message_id       TEXT NOT NULL UNIQUE,
	channel_id       TEXT NOT NULL,
	webpage_url      TEXT NOT NULL,
	format_id        TEXT NOT NULL,
	attachment_index INTEGER NOT NULL DEFAULT 0
);
`

// Open opens (creating if necessary) the store at path.
func Open(path string, opts Options) (*KV, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open store %q: %w", path, err)
	}

	if !opts.SkipCheck {
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("store is unreachable: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}

	return &KV{db: db}, nil
}

// Close releases the underlying database.
func (s *KV) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key. The boolean reports presence;
// a missing key is not an error.
func (s *KV) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key, overwriting any prior value.
func (s *KV) Put(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *KV) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// =============================================================================
// DOWNLOAD CACHE
// =============================================================================

// Download records a media download previously uploaded to Discord, so the
// same url+format pair never has to be fetched twice.
type Download struct {
	Key             string
	MessageID       string
	ChannelID       string
	WebpageURL      string
	FormatID        string
	AttachmentIndex int
}

// SaveDownload inserts or refreshes a download cache entry.
func (s *KV) SaveDownload(d Download) error {
	_, err := s.db.Exec(
		`INSERT INTO downloads (key, message_id, channel_id, webpage_url, format_id, attachment_index)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
			message_id = excluded.message_id,
			channel_id = excluded.channel_id,
			attachment_index = excluded.attachment_index`,
		d.Key, d.MessageID, d.ChannelID, d.WebpageURL, d.FormatID, d.AttachmentIndex,
	)
	if err != nil {
		return fmt.Errorf("failed to save download %q: %w", d.Key, err)
	}
	return nil
}

// FindDownload looks up a cached download by key.
func (s *KV) FindDownload(key string) (Download, bool, error) {
	var d Download
	err := s.db.QueryRow(
		`SELECT key, message_id, channel_id, webpage_url, format_id, attachment_index
		 FROM downloads WHERE key = ?`, key,
	).Scan(&d.Key, &d.MessageID, &d.ChannelID, &d.WebpageURL, &d.FormatID, &d.AttachmentIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return Download{}, false, nil
	}
	if err != nil {
		return Download{}, false, fmt.Errorf("failed to look up download %q: %w", key, err)
	}
	return d, true, nil
}

// DeleteDownload removes a cache entry, used when the cached Discord
// message turns out to have been deleted.
func (s *KV) DeleteDownload(key string) error {
	if _, err := s.db.Exec(`DELETE FROM downloads WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete download %q: %w", key, err)
	}
	return nil
}
