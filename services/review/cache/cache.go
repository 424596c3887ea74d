// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache stores analysed records keyed by request fingerprint.
//
// An analysis of the same record with the same step count and turn range
// always produces the same key, so a repeat request is answered locally
// without contacting the backend.
//
//	Lookup(key) ──► Store.Get ──► zstd frame? ──► decode ──► text
//	Put(key)    ──► encode ──► Store.Put ──► EvictionPolicy.Admitted
//
// Entries are never evicted unless an EvictionPolicy other than
// Unbounded is configured.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel/codes"
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// CacheError reports a storage or codec failure.
//
// # Description
//
// Callers treat a CacheError on Lookup as a miss and a CacheError on Put
// as a lost write. It never aborts an analysis.
type CacheError struct {
	// Op is "get", "decode", "encode", "put" or "delete".
	Op  string
	Key Key
	Err error
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *CacheError) Unwrap() error {
	return e.Err
}

// Cache is a content-addressed store of analysed records.
//
// Thread Safety: Safe for concurrent use if the Store is.
type Cache struct {
	store    Store
	policy   EvictionPolicy
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	logger   *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithCompression enables zstd compression of stored values. Reads
// always accept both compressed and plain values.
func WithCompression(enabled bool) Option {
	return func(c *Cache) {
		c.compress = enabled
	}
}

// WithEvictionPolicy replaces the default Unbounded policy.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(c *Cache) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithLogger sets the logger for eviction failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Cache over store.
func New(store Store, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("cache: store must not be nil")
	}
	c := &Cache{
		store:  store,
		policy: Unbounded{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("cache: create zstd decoder: %w", err)
	}
	c.decoder = dec
	if c.compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("cache: create zstd encoder: %w", err)
		}
		c.encoder = enc
	}
	return c, nil
}

// Lookup returns the cached record text for key.
//
// # Outputs
//
//   - string: the analysed record when found.
//   - bool: false on a miss.
//   - error: *CacheError when the store or the decoder failed. The bool
//     is false in that case.
func (c *Cache) Lookup(ctx context.Context, key Key) (string, bool, error) {
	ctx, span := startSpan(ctx, "Lookup", key)
	defer span.End()
	start := time.Now()

	raw, ok, err := c.store.Get(ctx, string(key))
	if err != nil {
		recordFailure(ctx, "get")
		span.SetStatus(codes.Error, err.Error())
		return "", false, &CacheError{Op: "get", Key: key, Err: err}
	}
	if !ok {
		recordLookup(ctx, start, false)
		return "", false, nil
	}

	text, err := c.decode(raw)
	if err != nil {
		recordFailure(ctx, "decode")
		span.SetStatus(codes.Error, err.Error())
		return "", false, &CacheError{Op: "decode", Key: key, Err: err}
	}
	c.policy.Accessed(key)
	recordLookup(ctx, start, true)
	return text, true, nil
}

// Put stores text under key, then applies the eviction policy.
func (c *Cache) Put(ctx context.Context, key Key, text string) error {
	ctx, span := startSpan(ctx, "Put", key)
	defer span.End()

	value := []byte(text)
	if c.encoder != nil {
		value = c.encoder.EncodeAll(value, make([]byte, 0, len(value)/2))
	}
	if err := c.store.Put(ctx, string(key), value); err != nil {
		recordFailure(ctx, "put")
		span.SetStatus(codes.Error, err.Error())
		return &CacheError{Op: "put", Key: key, Err: err}
	}

	for _, victim := range c.policy.Admitted(key) {
		if err := c.store.Delete(ctx, string(victim)); err != nil {
			recordFailure(ctx, "delete")
			c.logger.Warn("cache eviction failed",
				slog.String("key", string(victim)),
				slog.String("error", err.Error()))
			continue
		}
		recordEviction(ctx)
	}
	return nil
}

// Invalidate removes key.
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	if err := c.store.Delete(ctx, string(key)); err != nil {
		return &CacheError{Op: "delete", Key: key, Err: err}
	}
	c.policy.Removed(key)
	return nil
}

// Close releases the codecs and closes the store.
func (c *Cache) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	c.decoder.Close()
	return c.store.Close()
}

func (c *Cache) decode(raw []byte) (string, error) {
	if !bytes.HasPrefix(raw, zstdMagic) {
		return string(raw), nil
	}
	out, err := c.decoder.DecodeAll(raw, nil)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
