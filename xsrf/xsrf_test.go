// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package xsrf

import (
	"crypto/sha1"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1700000000, 0)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: epoch}
	s, err := New([]byte("secret key"), append([]Option{WithClock(clock.now)}, opts...)...)
	require.NoError(t, err)
	return s, clock
}

func TestIssueAndValidate(t *testing.T) {
	s, _ := newTestService(t)
	tok := s.Issue(Subject("alice"), "/rpc")
	assert.NotEmpty(t, tok)
	assert.Equal(t, Validity{Valid: true}, s.Validate(tok, Subject("alice"), "/rpc"))
}

func TestTokenIsNotTransferable(t *testing.T) {
	s, _ := newTestService(t)
	tok := s.Issue(Subject("alice"), "/rpc")

	invalid := Validity{Valid: false, NeedsRefresh: true}
	assert.Equal(t, invalid, s.Validate(tok, Subject("bob"), "/rpc"))
	assert.Equal(t, invalid, s.Validate(tok, Subject("alice"), "/other"))
	assert.Equal(t, invalid, s.Validate(tok, Anonymous, "/rpc"))
}

func TestValidateMalformed(t *testing.T) {
	s, _ := newTestService(t)
	tok := s.Issue(Anonymous, "/rpc")

	for _, in := range []string{"", "!!!", "AAAA", tok[:len(tok)-2], tok + "AA"} {
		assert.Equal(t, Validity{Valid: false, NeedsRefresh: true}, s.Validate(in, Anonymous, "/rpc"), "token %q", in)
	}
}

func TestValidateTampered(t *testing.T) {
	s, _ := newTestService(t)
	raw, err := encoding.DecodeString(s.Issue(Anonymous, "/rpc"))
	require.NoError(t, err)

	// Flip a bit of the timestamp and of the MAC in turn.
	for _, i := range []int{3, len(raw) - 1} {
		b := append([]byte(nil), raw...)
		b[i] ^= 1
		assert.False(t, s.Validate(encoding.EncodeToString(b), Anonymous, "/rpc").Valid)
	}
}

func TestValidateWrongKey(t *testing.T) {
	a, _ := newTestService(t)
	b, err := New([]byte("another key"), WithClock(func() time.Time { return epoch }))
	require.NoError(t, err)
	assert.False(t, b.Validate(a.Issue(Anonymous, "/rpc"), Anonymous, "/rpc").Valid)
}

func TestWindowEdges(t *testing.T) {
	s, clock := newTestService(t, WithWindow(time.Hour))
	tok := s.Issue(Anonymous, "/rpc")

	clock.advance(time.Hour)
	v := s.Validate(tok, Anonymous, "/rpc")
	assert.True(t, v.Valid, "token exactly at the window edge")
	assert.True(t, v.NeedsRefresh)

	clock.advance(time.Second)
	assert.False(t, s.Validate(tok, Anonymous, "/rpc").Valid)
}

func TestWindowIsSymmetric(t *testing.T) {
	s, clock := newTestService(t, WithWindow(time.Hour))

	// A token stamped in the future by a skewed issuer.
	clock.advance(time.Hour)
	tok := s.Issue(Anonymous, "/rpc")
	clock.advance(-time.Hour)
	assert.True(t, s.Validate(tok, Anonymous, "/rpc").Valid)

	clock.advance(-time.Second)
	assert.False(t, s.Validate(tok, Anonymous, "/rpc").Valid)
}

func TestRefreshAfter(t *testing.T) {
	s, clock := newTestService(t, WithWindow(4*time.Hour))
	tok := s.Issue(Anonymous, "/rpc")

	clock.advance(2 * time.Hour)
	assert.Equal(t, Validity{Valid: true}, s.Validate(tok, Anonymous, "/rpc"))

	clock.advance(time.Second)
	assert.Equal(t, Validity{Valid: true, NeedsRefresh: true}, s.Validate(tok, Anonymous, "/rpc"))

	s, clock = newTestService(t, WithRefreshAfter(time.Minute))
	tok = s.Issue(Anonymous, "/rpc")
	clock.advance(2 * time.Minute)
	assert.Equal(t, Validity{Valid: true, NeedsRefresh: true}, s.Validate(tok, Anonymous, "/rpc"))
}

func TestWithHash(t *testing.T) {
	s, _ := newTestService(t, WithHash(sha1.New))
	tok := s.Issue(Anonymous, "/rpc")
	raw, err := encoding.DecodeString(tok)
	require.NoError(t, err)
	assert.Len(t, raw, timeSize+sha1.Size)
	assert.True(t, s.Validate(tok, Anonymous, "/rpc").Valid)

	// A SHA-256 service rejects the shorter token outright.
	d, _ := newTestService(t)
	assert.False(t, d.Validate(tok, Anonymous, "/rpc").Valid)
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	_, err := New(nil)
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = New([]byte("k"), WithWindow(0))
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = New([]byte("k"), WithHash(nil))
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestNewRandom(t *testing.T) {
	a, err := NewRandom()
	require.NoError(t, err)
	b, err := NewRandom()
	require.NoError(t, err)

	tok := a.Issue(Anonymous, "/rpc")
	assert.True(t, a.Validate(tok, Anonymous, "/rpc").Valid)
	assert.False(t, b.Validate(tok, Anonymous, "/rpc").Valid)
}

func TestKeys(t *testing.T) {
	text, err := GenerateKey()
	require.NoError(t, err)
	key, err := ParseKey(text)
	require.NoError(t, err)
	assert.Len(t, key, keySize)

	_, err = ParseKey("not base64!")
	assert.True(t, errors.Is(err, ErrUnavailable))

	k1, err := DeriveKey([]byte("configured"), "rpc")
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("configured"), "rpc")
	require.NoError(t, err)
	k3, err := DeriveKey([]byte("configured"), "admin")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveKey(nil, "rpc")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "user/alice", Subject("alice"))
	assert.Equal(t, Anonymous, Subject(""))
}
