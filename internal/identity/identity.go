package identity

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/teris-io/shortid"
)

const (
	uidClaim = "user-id"
	expClaim = "exp"

	// TokenCookieKey is the cookie carrying the session token.
	TokenCookieKey = "token"

	defaultExp = time.Hour * 24
)

// Provider supplies the current user identity, which may still be
// pending. Changes delivers the identifier once it resolves.
type Provider interface {
	Current() (string, bool)
	Changes() <-chan string
}

// Static is a Provider whose identity is already resolved.
type Static struct {
	uid string
}

func NewStatic(uid string) *Static {
	return &Static{uid: uid}
}

func (s *Static) Current() (string, bool) { return s.uid, true }

// Changes returns a nil channel; the identity never changes, and
// Current always resolves.
func (s *Static) Changes() <-chan string { return nil }

// Deferred is a Provider that starts unresolved. Resolve supplies the
// identity exactly once; later calls are ignored.
type Deferred struct {
	mu  sync.Mutex
	uid string
	ok  bool
	ch  chan string
}

func NewDeferred() *Deferred {
	return &Deferred{ch: make(chan string, 1)}
}

func (d *Deferred) Resolve(uid string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ok {
		return
	}

	d.uid = uid
	d.ok = true
	d.ch <- uid
}

func (d *Deferred) Current() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uid, d.ok
}

func (d *Deferred) Changes() <-chan string { return d.ch }

// Service issues and verifies anonymous session identities. An identity
// is an opaque stable id wrapped in a signed token; verifying the token
// on a later visit yields the same id, so the identity survives
// reconnects without any credentials.
type Service struct {
	signingKey []byte
	exp        time.Duration
	log        *log.Logger
}

func NewService(signingKey []byte, logger *log.Logger) *Service {
	return &Service{
		signingKey: signingKey,
		exp:        defaultExp,
		log:        logger,
	}
}

// Issue mints a fresh anonymous identity and its session token.
func (s *Service) Issue() (string, string, error) {
	uid, err := shortid.Generate()
	if err != nil {
		return "", "", fmt.Errorf("generate user id: %w", err)
	}

	token, err := s.IssueToken(uid)
	if err != nil {
		return "", "", err
	}

	return uid, token, nil
}

// IssueToken mints a session token for an existing identity.
func (s *Service) IssueToken(uid string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		uidClaim: uid,
		expClaim: time.Now().Add(s.exp).Unix(),
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Verify extracts the user id from a session token.
func (s *Service) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	uid, ok := claims[uidClaim].(string)
	if !ok || uid == "" {
		return "", fmt.Errorf("invalid user id claim")
	}

	return uid, nil
}

// Cookie wraps a session token for the browser.
func (s *Service) Cookie(tokenString string) *http.Cookie {
	return &http.Cookie{
		Name:     TokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(s.exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
