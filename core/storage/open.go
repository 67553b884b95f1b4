package storage

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Open selects and opens a backend from a connection URL:
//
//	memory://                      in-memory embedded engine
//	nedb://memory                  same as memory://
//	nedb:///var/lib/app/db         file-backed embedded engine
//	nedb://./data?readonly=true    read-only file-backed engine
//	nedb://./data?compress=zstd    zstd-compressed snapshots
//	sqlite:///var/lib/app/app.db   SQLite document store
//	sqlite://:memory:              in-memory SQLite
func Open(rawURL string) (Backend, error) {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return nil, fmt.Errorf("invalid database url %q: missing scheme", rawURL)
	}

	location, rawQuery, _ := strings.Cut(rest, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid database url %q: %w", rawURL, err)
	}

	switch strings.ToLower(scheme) {
	case "memory":
		return NewMemory(MemoryOptions{})
	case "nedb":
		opts, err := memoryOptions(location, query)
		if err != nil {
			return nil, fmt.Errorf("invalid database url %q: %w", rawURL, err)
		}
		return NewMemory(opts)
	case "sqlite", "sqlite3":
		if location == "" {
			return nil, fmt.Errorf("invalid database url %q: missing path", rawURL)
		}
		return NewSQLite(location)
	}
	return nil, fmt.Errorf("unsupported database scheme %q", scheme)
}

func memoryOptions(location string, query url.Values) (MemoryOptions, error) {
	var opts MemoryOptions

	if location != "" && location != "memory" {
		opts.Dir = location
	}

	if v := query.Get("readonly"); v != "" {
		ro, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("readonly: %w", err)
		}
		opts.ReadOnly = ro
	}

	switch c := query.Get("compress"); c {
	case "":
	case "zstd":
		opts.Compress = true
	default:
		return opts, fmt.Errorf("unsupported compression %q", c)
	}

	if opts.Dir == "" && (opts.ReadOnly || opts.Compress) {
		return opts, fmt.Errorf("readonly and compress require a directory")
	}
	return opts, nil
}

// Scheme returns the scheme of a connection URL.
func Scheme(rawURL string) string {
	scheme, _, _ := strings.Cut(rawURL, "://")
	return strings.ToLower(scheme)
}
