// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package xsrf issues and checks signed, expiring tokens bound to a
// (subject, resource) pair.
//
// A token is the URL-safe base64 encoding of a 32-bit issue time followed by
// an HMAC over the issue time, the subject and the resource. Nothing is
// stored server side: validity is recomputed from the key and the token.
package xsrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultWindow is how far an issue time may lie from now, in either
	// direction, for a token to be accepted.
	DefaultWindow = 4 * time.Hour

	// Anonymous is the subject of callers without an authenticated identity.
	Anonymous = "anonymous"

	timeSize = 4
	keySize  = 32
)

// ErrUnavailable is returned when the service cannot be set up. Callers
// should treat it as fatal at startup.
var ErrUnavailable = errors.New("xsrf: token service unavailable")

var encoding = base64.RawURLEncoding

// Validity is the outcome of Validate.
type Validity struct {
	// Valid is set when the token matches the subject and resource and its
	// issue time lies within the window.
	Valid bool

	// NeedsRefresh is set when the caller should hand out a fresh token:
	// the token is missing, invalid, or older than the refresh age.
	NeedsRefresh bool
}

// Service issues and validates tokens. It is immutable once created and safe
// for concurrent use.
type Service struct {
	key          []byte
	newHash      func() hash.Hash
	tokenLen     int
	window       time.Duration
	refreshAfter time.Duration
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithWindow sets the accepted distance between issue time and now.
func WithWindow(d time.Duration) Option {
	return func(s *Service) { s.window = d }
}

// WithRefreshAfter sets the token age after which Validate asks for a
// refresh. It defaults to half the window.
func WithRefreshAfter(d time.Duration) Option {
	return func(s *Service) { s.refreshAfter = d }
}

// WithHash sets the MAC hash. SHA-256 is used by default.
func WithHash(h func() hash.Hash) Option {
	return func(s *Service) { s.newHash = h }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a service signing with key.
func New(key []byte, opts ...Option) (*Service, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrUnavailable)
	}
	s := &Service{
		key:     append([]byte(nil), key...),
		newHash: sha256.New,
		window:  DefaultWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newHash == nil || s.window <= 0 {
		return nil, fmt.Errorf("%w: bad configuration", ErrUnavailable)
	}
	if s.refreshAfter <= 0 {
		s.refreshAfter = s.window / 2
	}
	s.tokenLen = timeSize + hmac.New(s.newHash, s.key).Size()
	return s, nil
}

// NewRandom returns a service with a freshly generated key. Tokens it issues
// do not survive a process restart.
func NewRandom(opts ...Option) (*Service, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return New(key, opts...)
}

// GenerateKey returns a random key in the text form accepted by ParseKey.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return encoding.EncodeToString(key), nil
}

// ParseKey decodes a key produced by GenerateKey.
func ParseKey(s string) ([]byte, error) {
	key, err := encoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad key: %v", ErrUnavailable, err)
	}
	return key, nil
}

// DeriveKey stretches a configured secret into a signing key. Different info
// strings give independent keys from the same secret.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrUnavailable)
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return key, nil
}

// Subject returns the token subject for an authenticated user, or Anonymous
// when user is empty.
func Subject(user string) string {
	if user == "" {
		return Anonymous
	}
	return "user/" + user
}

// Window returns the configured validity window.
func (s *Service) Window() time.Duration { return s.window }

// Issue returns a new token for subject and resource.
func (s *Service) Issue(subject, resource string) string {
	buf := make([]byte, timeSize, s.tokenLen)
	binary.BigEndian.PutUint32(buf, uint32(s.now().Unix()))
	buf = s.sign(buf, subject, resource)
	return encoding.EncodeToString(buf)
}

// Validate checks token against subject and resource.
func (s *Service) Validate(token, subject, resource string) Validity {
	invalid := Validity{Valid: false, NeedsRefresh: true}
	if token == "" {
		return invalid
	}
	in, err := encoding.DecodeString(token)
	if err != nil || len(in) != s.tokenLen {
		return invalid
	}

	issued := int64(binary.BigEndian.Uint32(in))
	now := s.now().Unix()
	age := now - issued
	if age > int64(s.window/time.Second) || -age > int64(s.window/time.Second) {
		return invalid
	}

	want := s.sign(append(make([]byte, 0, s.tokenLen), in[:timeSize]...), subject, resource)
	if !hmac.Equal(want, in) {
		return invalid
	}
	return Validity{
		Valid:        true,
		NeedsRefresh: age > int64(s.refreshAfter/time.Second),
	}
}

// sign appends the MAC of buf[:timeSize], subject and resource to buf.
func (s *Service) sign(buf []byte, subject, resource string) []byte {
	m := hmac.New(s.newHash, s.key)
	m.Write(buf[:timeSize])
	m.Write([]byte{':'})
	io.WriteString(m, subject)
	m.Write([]byte{':'})
	io.WriteString(m, resource)
	return m.Sum(buf)
}
