// Package auth issues and verifies the tokens the customer portal runs on:
// short-lived access tokens, longer refresh tokens, and the portal link
// token mailed to a customer after enrollment. All three are HS256 JWTs
// signed with one shared secret.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/types"
)

// Token kinds.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
	KindPortal  = "portal"
)

const issuer = "protestdesk"

var (
	// ErrInvalidToken is returned for tokens that do not verify.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpired is returned for tokens past their expiry.
	ErrExpired = errors.New("auth: token expired")
	// ErrNoAccount is returned when a valid portal token names an email with
	// no profile.
	ErrNoAccount = errors.New("auth: no account for email")
)

// Claims is what a verified token asserts.
type Claims struct {
	UserID string `json:"sub"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	Kind   string `json:"kind"`
}

type private struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	Kind  string `json:"kind"`
}

// TTLs bounds each token kind.
type TTLs struct {
	Access  time.Duration
	Refresh time.Duration
	Portal  time.Duration
}

// DefaultTTLs returns one hour access, thirty day refresh and seven day
// portal tokens.
func DefaultTTLs() TTLs {
	return TTLs{Access: time.Hour, Refresh: 30 * 24 * time.Hour, Portal: 7 * 24 * time.Hour}
}

// Signer mints and verifies tokens.
type Signer struct {
	secret []byte
	signer jose.Signer
	ttl    TTLs
	now    func() time.Time
}

// NewSigner creates a Signer over secret.
func NewSigner(secret string, ttl TTLs) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: secret must be at least 16 bytes")
	}
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: creating signer: %w", err)
	}
	return &Signer{secret: []byte(secret), signer: sig, ttl: ttl, now: time.Now}, nil
}

func (s *Signer) mint(c Claims, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(ttl)
	tok, err := jwt.Signed(s.signer).
		Claims(jwt.Claims{
			Issuer:   issuer,
			Subject:  c.UserID,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(exp),
		}).
		Claims(private{Email: c.Email, Role: c.Role, Kind: c.Kind}).
		Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing token: %w", err)
	}
	return tok, exp, nil
}

// Verify checks raw and that it is of the given kind.
func (s *Signer) Verify(raw, kind string) (Claims, error) {
	tok, err := jwt.ParseSigned(strings.TrimSpace(raw), []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var (
		std  jwt.Claims
		priv private
	)
	if err := tok.Claims(s.secret, &std, &priv); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Issuer: issuer, Time: s.now()}, 0); err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if priv.Kind != kind {
		return Claims{}, fmt.Errorf("%w: want %s token, got %s", ErrInvalidToken, kind, priv.Kind)
	}
	return Claims{UserID: std.Subject, Email: priv.Email, Role: priv.Role, Kind: priv.Kind}, nil
}

// PortalToken mints the link token for email. It satisfies
// intake.PortalLinker; a signing failure yields no token.
func (s *Signer) PortalToken(email string) string {
	tok, _, err := s.mint(Claims{Email: normalize(email), Kind: KindPortal}, s.ttl.Portal)
	if err != nil {
		return ""
	}
	return tok
}

// Session is a pair of tokens for one profile.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
}

// Issue mints a session for p.
func (s *Signer) Issue(p types.Profile) (Session, error) {
	c := Claims{UserID: p.ID, Email: p.Email, Role: p.Role}
	c.Kind = KindAccess
	access, exp, err := s.mint(c, s.ttl.Access)
	if err != nil {
		return Session{}, err
	}
	c.Kind = KindRefresh
	refresh, _, err := s.mint(c, s.ttl.Refresh)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp, UserID: p.ID, Email: p.Email, Role: p.Role}, nil
}

// Service exchanges portal links and refresh tokens for sessions.
type Service struct {
	signer *Signer
	ds     dataservice.DataService
}

// NewService creates a Service.
func NewService(signer *Signer, ds dataservice.DataService) *Service {
	return &Service{signer: signer, ds: ds}
}

// Signer returns the token signer.
func (s *Service) Signer() *Signer { return s.signer }

// PortalLogin trades a portal link for a session.
func (s *Service) PortalLogin(ctx context.Context, email, token string) (Session, error) {
	c, err := s.signer.Verify(token, KindPortal)
	if err != nil {
		return Session{}, err
	}
	if c.Email != normalize(email) {
		return Session{}, fmt.Errorf("%w: email does not match token", ErrInvalidToken)
	}
	p, err := dataservice.First(ctx, s.ds.Profiles(), dataservice.Where("email", c.Email))
	if errors.Is(err, dataservice.ErrNotFound) {
		return Session{}, ErrNoAccount
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading profile: %w", err)
	}
	return s.signer.Issue(p)
}

// Resume validates a session. A live access token is returned unchanged;
// an expired one is replaced using the refresh token.
func (s *Service) Resume(ctx context.Context, access, refresh string) (Session, error) {
	c, err := s.signer.Verify(access, KindAccess)
	if err == nil {
		return Session{AccessToken: access, RefreshToken: refresh, UserID: c.UserID, Email: c.Email, Role: c.Role}, nil
	}
	if !errors.Is(err, ErrExpired) || refresh == "" {
		return Session{}, err
	}
	rc, err := s.signer.Verify(refresh, KindRefresh)
	if err != nil {
		return Session{}, err
	}
	p, err := s.ds.Profiles().Get(ctx, rc.UserID)
	if errors.Is(err, dataservice.ErrNotFound) {
		return Session{}, ErrNoAccount
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading profile: %w", err)
	}
	return s.signer.Issue(p)
}

type claimsKey struct{}

// WithClaims returns ctx carrying c.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// FromContext returns the claims of the authenticated caller.
func FromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
