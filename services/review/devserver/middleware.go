// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package devserver

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Context keys set by the middleware chain.
const (
	correlationKey = "katareview_correlation_id"
	clientKey      = "katareview_client_id"
)

// CorrelationHeader is echoed on every response.
const CorrelationHeader = "X-Correlation-ID"

// errorBody is the error envelope every failure is written in.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{
		Code:      status,
		Message:   message,
		RequestID: c.GetString(correlationKey),
	}})
}

// correlationID forwards X-Correlation-ID or mints one, and logs the
// request around the handler.
func correlationID(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header(CorrelationHeader, id)

		start := time.Now()
		c.Next()
		logger.Info("request completed",
			slog.String("correlation_id", id),
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}

// bodyLimit rejects declared oversize bodies with 413 and caps the
// reader for undeclared ones.
func bodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader("Content-Length"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				abortWithError(c, http.StatusBadRequest, "Invalid Content-Length header")
				return
			}
			if n > maxBytes {
				abortWithError(c, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("Request body too large. Maximum size: %d bytes", maxBytes))
				return
			}
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// credentials is the set of secrets a request may present. Each one that
// is configured must be matched.
type credentials struct {
	apiKey      string
	workerKey   string
	bearerToken string
}

func (cr credentials) enabled() bool {
	return cr.apiKey != "" || cr.workerKey != "" || cr.bearerToken != ""
}

// auth accepts a request when every configured credential is presented:
// X-API-Key for the domain server, X-Worker-Key and a bearer token for
// the worker. With nothing configured, auth is disabled.
func auth(cr credentials) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cr.enabled() {
			c.Next()
			return
		}
		if cr.apiKey != "" {
			key := c.GetHeader("X-API-Key")
			if key == "" {
				abortWithError(c, http.StatusUnauthorized, "Missing API key. Provide X-API-Key header.")
				return
			}
			if !equal(key, cr.apiKey) {
				abortWithError(c, http.StatusUnauthorized, "Invalid API key")
				return
			}
			c.Set(clientKey, "key:"+prefix(key))
		}
		if cr.workerKey != "" && !equal(c.GetHeader("X-Worker-Key"), cr.workerKey) {
			abortWithError(c, http.StatusUnauthorized, "Invalid worker key")
			return
		}
		if cr.bearerToken != "" {
			token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
			if !ok || !equal(token, cr.bearerToken) {
				abortWithError(c, http.StatusUnauthorized, "Invalid bearer token")
				return
			}
		}
		c.Next()
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func prefix(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

// clientLimiter keeps one token bucket per client. A client is its API
// key prefix when authenticated, otherwise its address.
type clientLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientBucket
	seen    int
	window  time.Duration
}

type clientBucket struct {
	limiter *rate.Limiter
	last    time.Time
}

func newClientLimiter(requests int, window time.Duration) *clientLimiter {
	return &clientLimiter{
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		clients: make(map[string]*clientBucket),
		window:  window,
	}
}

// allow reports whether id may proceed now, and otherwise how long it
// should wait.
func (l *clientLimiter) allow(id string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[id]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[id] = b
	}
	b.last = now
	l.sweep(now)

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, l.window
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// sweep drops idle clients every hundred requests.
func (l *clientLimiter) sweep(now time.Time) {
	l.seen++
	if l.seen < 100 {
		return
	}
	l.seen = 0
	for id, b := range l.clients {
		if now.Sub(b.last) > 2*l.window {
			delete(l.clients, id)
		}
	}
}

func rateLimit(l *clientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetString(clientKey)
		if id == "" {
			id = "ip:" + c.ClientIP()
		}
		ok, wait := l.allow(id, time.Now())
		if ok {
			c.Next()
			return
		}
		retry := int(math.Ceil(wait.Seconds()))
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: errorDetail{
			Code:       http.StatusTooManyRequests,
			Message:    "Too many requests. Please retry later.",
			RequestID:  c.GetString(correlationKey),
			RetryAfter: retry,
		}})
	}
}
