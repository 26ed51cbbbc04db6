package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrTokenExpired is returned by Verify for a well-formed token past its expiry.
var ErrTokenExpired = errors.New("download token expired")

// DownloadToken is the data carried by a signed download link.
type DownloadToken struct {
	Owner     string
	Path      string
	ExpiresAt time.Time
}

// SignedURLSigner issues and validates signed download tokens for stored exports.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign returns a token granting access to relPath on behalf of owner.
func (s *SignedURLSigner) Sign(owner, relPath string) (string, time.Time, error) {
	if owner == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("owner and path required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	ownerPart := base64.RawURLEncoding.EncodeToString([]byte(owner))
	pathPart := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{ownerPart, exp, pathPart, s.mac(ownerPart, exp, pathPart)}, ".")
	return token, expiresAt, nil
}

// Verify checks the token signature and expiry.
func (s *SignedURLSigner) Verify(token string) (DownloadToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return DownloadToken{}, fmt.Errorf("invalid token format")
	}
	ownerPart, exp, pathPart, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.mac(ownerPart, exp, pathPart)), []byte(signature)) {
		return DownloadToken{}, fmt.Errorf("invalid token signature")
	}
	owner, err := base64.RawURLEncoding.DecodeString(ownerPart)
	if err != nil {
		return DownloadToken{}, fmt.Errorf("decode owner: %w", err)
	}
	path, err := base64.RawURLEncoding.DecodeString(pathPart)
	if err != nil {
		return DownloadToken{}, fmt.Errorf("decode path: %w", err)
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return DownloadToken{}, fmt.Errorf("invalid expiry")
	}

	out := DownloadToken{Owner: string(owner), Path: string(path), ExpiresAt: time.Unix(unix, 0)}
	if s.now().After(out.ExpiresAt) {
		return out, ErrTokenExpired
	}
	return out, nil
}

// TTL reports how long issued tokens stay valid.
func (s *SignedURLSigner) TTL() time.Duration {
	return s.ttl
}

func (s *SignedURLSigner) mac(parts ...string) string {
	h := hmac.New(sha256.New, s.secret)
	_, _ = h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}
