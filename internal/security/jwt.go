package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"
)

// Claims is the claim set carried by both bearer tokens. The registered ID is
// the tokenUID of the session and Subject is the userUID.
type Claims struct {
	Role           string `json:"role,omitempty"`
	UserName       string `json:"user_name,omitempty"`
	Email          string `json:"email,omitempty"`
	IsRefreshToken bool   `json:"is_refresh_token"`
	jwt.RegisteredClaims
}

func (c *Claims) TokenUID() string { return c.ID }

func (c *Claims) UserUID() string { return c.Subject }

// Identity is what a token is minted for.
type Identity struct {
	UserUID  string
	UserName string
	Email    string
	Role     string
}

// MintedToken is a signed token together with the instants embedded in it.
type MintedToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type JWTManager struct {
	issuer        string
	audience      string
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

func NewJWTManager(issuer, audience, accessSecret, refreshSecret string) *JWTManager {
	return &JWTManager{
		issuer:        issuer,
		audience:      audience,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		now:           time.Now,
	}
}

// WithClock replaces the time source used for iat/exp and for validation.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *JWTManager) MintAccessToken(id Identity, tokenUID string, ttl time.Duration) (MintedToken, error) {
	return m.mint(Claims{Role: id.Role}, id.UserUID, tokenUID, ttl, m.accessSecret)
}

func (m *JWTManager) MintRefreshToken(id Identity, tokenUID string, ttl time.Duration) (MintedToken, error) {
	claims := Claims{
		Role:           id.Role,
		UserName:       id.UserName,
		Email:          id.Email,
		IsRefreshToken: true,
	}
	return m.mint(claims, id.UserUID, tokenUID, ttl, m.refreshSecret)
}

func (m *JWTManager) mint(claims Claims, userUID, tokenUID string, ttl time.Duration, secret []byte) (MintedToken, error) {
	if userUID == "" || tokenUID == "" {
		return MintedToken{}, errors.New("token identity incomplete")
	}
	now := m.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   userUID,
		Audience:  []string{m.audience},
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        tokenUID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return MintedToken{}, err
	}
	return MintedToken{Value: signed, IssuedAt: now, ExpiresAt: exp}, nil
}

// ParseAccessToken verifies signature, issuer, audience and expiry. Expiry
// failures map to domain.ErrTokenExpired, everything else to
// domain.ErrInvalidToken.
func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	claims, err := m.parse(raw, m.accessSecret)
	if err != nil {
		return nil, err
	}
	if claims.IsRefreshToken {
		return nil, fmt.Errorf("%w: refresh token presented as access token", domain.ErrInvalidToken)
	}
	return claims, nil
}

func (m *JWTManager) ParseRefreshToken(raw string) (*Claims, error) {
	claims, err := m.parse(raw, m.refreshSecret)
	if err != nil {
		return nil, err
	}
	if !claims.IsRefreshToken {
		return nil, fmt.Errorf("%w: not a refresh token", domain.ErrInvalidToken)
	}
	return claims, nil
}

func (m *JWTManager) parse(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience), jwt.WithExpirationRequired(), jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, domain.ErrInvalidToken
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing jti or sub", domain.ErrInvalidToken)
	}
	return claims, nil
}
