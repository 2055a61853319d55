// Package identity signs users in and out of the chat client.
//
// A session is an HS256 JWT stored in a file. The principal id is derived
// from the lowercased display name, so signing in again under the same name
// keeps authorship of earlier messages.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/daviddao/chatview/internal/model"
)

const (
	issuer     = "chatview"
	sessionTTL = 30 * 24 * time.Hour
)

// principalNamespace scopes name-derived principal ids.
var principalNamespace = uuid.MustParse("6f1c1a5e-3b7d-4c8e-9a51-2f0d8e7c4b19")

var (
	ErrNoKey          = errors.New("identity: signing key is empty")
	ErrEmptyName      = errors.New("identity: display name is empty")
	ErrInvalidSession = errors.New("identity: invalid session")
)

type sessionClaims struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Provider stores the signed-in principal in a session file.
type Provider struct {
	path string
	key  []byte
	now  func() time.Time
}

// New returns a provider keeping its session at path, signed with key.
func New(path string, key []byte) (*Provider, error) {
	if len(key) == 0 {
		return nil, ErrNoKey
	}
	return &Provider{path: path, key: key, now: time.Now}, nil
}

// PrincipalID returns the stable id for a display name.
func PrincipalID(name string) string {
	return uuid.NewSHA1(principalNamespace, []byte(strings.ToLower(strings.TrimSpace(name)))).String()
}

// SignIn starts a session for name and returns the principal.
func (p *Provider) SignIn(name, avatarURL string) (*model.Principal, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	principal := &model.Principal{
		ID:          PrincipalID(name),
		DisplayName: name,
		AvatarURL:   strings.TrimSpace(avatarURL),
	}

	now := p.now()
	claims := sessionClaims{
		Name:   principal.DisplayName,
		Avatar: principal.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(token), 0o600); err != nil {
		return nil, fmt.Errorf("write session: %w", err)
	}
	return principal, nil
}

// SignOut ends the current session. Signing out twice is not an error.
func (p *Provider) SignOut() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// CurrentPrincipal returns the signed-in principal, or nil when nobody is
// signed in or the session has expired.
func (p *Provider) CurrentPrincipal() (*model.Principal, error) {
	raw, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var claims sessionClaims
	_, err = jwt.ParseWithClaims(strings.TrimSpace(string(raw)), &claims,
		func(t *jwt.Token) (any, error) { return p.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if claims.Subject == "" || claims.Name == "" {
		return nil, ErrInvalidSession
	}
	return &model.Principal{
		ID:          claims.Subject,
		DisplayName: claims.Name,
		AvatarURL:   claims.Avatar,
	}, nil
}
