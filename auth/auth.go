// Package auth issues and checks the session tokens that guard editing.
// The server prints a token link at startup; other browsers may trade the
// configured passphrase for a token.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/stevecastle/stereopair/renderer"
)

var (
	ErrInvalidCreds = errors.New("invalid credentials")
	ErrNoPassphrase = errors.New("passphrase login is not configured")
	ErrInvalidToken = errors.New("invalid token")
)

// CookieName carries the token for browsers.
const CookieName = "stereopair_token"

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 30 * 24 * time.Hour

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type AuthService struct {
	jwtSecret      []byte
	passphraseHash []byte
	ttl            time.Duration
}

// NewAuthService returns a service signing with secret. passphraseHash is a
// bcrypt hash and may be empty.
func NewAuthService(secret, passphraseHash string) *AuthService {
	return &AuthService{
		jwtSecret:      []byte(secret),
		passphraseHash: []byte(passphraseHash),
		ttl:            DefaultTTL,
	}
}

// HashPassphrase returns the bcrypt hash stored in the config file.
func HashPassphrase(passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.New("empty passphrase")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Issue signs a token for subject.
func (s *AuthService) Issue(subject string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: "editor",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// Login trades the passphrase for a token.
func (s *AuthService) Login(passphrase string) (string, error) {
	if len(s.passphraseHash) == 0 {
		return "", ErrNoPassphrase
	}
	if err := bcrypt.CompareHashAndPassword(s.passphraseHash, []byte(passphrase)); err != nil {
		return "", ErrInvalidCreds
	}
	return s.Issue("passphrase")
}

func (s *AuthService) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// tokenFromRequest looks in the Authorization header, then the cookie.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// queryToken returns the ?token= parameter when it verifies.
func (s *AuthService) queryToken(r *http.Request) (string, bool) {
	t := r.URL.Query().Get("token")
	if t == "" {
		return "", false
	}
	if _, err := s.VerifyToken(t); err != nil {
		return "", false
	}
	return t, true
}

// SetCookie stores token in the browser.
func (s *AuthService) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// Middleware rejects editor requests without a valid token. A valid token
// in the query string takes precedence over the header and cookie and
// replaces the cookie on any route, so the link printed at startup signs the
// browser in even over a stale session.
func (s *AuthService) Middleware(next http.Handler, role renderer.AuthRole) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := s.queryToken(r); ok {
			s.SetCookie(w, token)
			next.ServeHTTP(w, r)
			return
		}
		if role == renderer.RolePublic {
			next.ServeHTTP(w, r)
			return
		}
		token := tokenFromRequest(r)
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := s.VerifyToken(token); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
