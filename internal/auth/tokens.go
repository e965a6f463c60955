package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	// ErrInvalidToken covers malformed, forged, expired and wrongly typed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenBlacklisted is returned for refresh tokens revoked by logout.
	ErrTokenBlacklisted = errors.New("token is blacklisted")
)

// Claims is the JWT payload shared by access and refresh tokens.
type Claims struct {
	UserID    int64  `json:"user_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair holds a freshly issued access and refresh token.
type TokenPair struct {
	Access           string
	Refresh          string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenIssuerConfig configures a TokenIssuer.
type TokenIssuerConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Blacklist  Blacklist
	Now        func() time.Time
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	blacklist  Blacklist
	now        func() time.Time
}

// NewTokenIssuer validates cfg and fills in defaults. A nil blacklist selects
// an in-memory one.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	issuer := &TokenIssuer{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		blacklist:  cfg.Blacklist,
		now:        cfg.Now,
	}
	if issuer.accessTTL <= 0 {
		issuer.accessTTL = DefaultAccessTTL
	}
	if issuer.refreshTTL <= 0 {
		issuer.refreshTTL = DefaultRefreshTTL
	}
	if issuer.blacklist == nil {
		issuer.blacklist = NewMemoryBlacklist()
	}
	if issuer.now == nil {
		issuer.now = time.Now
	}
	return issuer, nil
}

func (i *TokenIssuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

func (i *TokenIssuer) sign(userID int64, tokenType string, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, expiresAt, nil
}

// IssuePair signs a new access and refresh token for userID.
func (i *TokenIssuer) IssuePair(userID int64) (TokenPair, error) {
	access, accessExp, err := i.sign(userID, TokenTypeAccess, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := i.sign(userID, TokenTypeRefresh, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh, AccessExpiresAt: accessExp, RefreshExpiresAt: refreshExp}, nil
}

// IssueAccess signs a standalone access token.
func (i *TokenIssuer) IssueAccess(userID int64) (string, time.Time, error) {
	return i.sign(userID, TokenTypeAccess, i.accessTTL)
}

func (i *TokenIssuer) parse(raw, tokenType string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt == nil || !i.now().Before(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalidToken, tokenType)
	}
	if claims.UserID <= 0 || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseAccess verifies an access token.
func (i *TokenIssuer) ParseAccess(raw string) (*Claims, error) {
	return i.parse(raw, TokenTypeAccess)
}

// ParseRefresh verifies a refresh token and rejects revoked ones.
func (i *TokenIssuer) ParseRefresh(ctx context.Context, raw string) (*Claims, error) {
	claims, err := i.parse(raw, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	revoked, err := i.blacklist.Contains(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check blacklist: %w", err)
	}
	if revoked {
		return nil, ErrTokenBlacklisted
	}
	return claims, nil
}

// Revoke blacklists a refresh token until it would have expired. Tokens that
// do not verify are ignored so logout stays idempotent.
func (i *TokenIssuer) Revoke(ctx context.Context, raw string) error {
	claims, err := i.parse(raw, TokenTypeRefresh)
	if err != nil {
		return nil
	}
	return i.blacklist.Add(ctx, claims.ID, claims.UserID, claims.ExpiresAt.Time)
}

// PurgeExpired drops blacklist entries whose tokens have expired anyway.
func (i *TokenIssuer) PurgeExpired(ctx context.Context) (int64, error) {
	return i.blacklist.PurgeExpired(ctx, i.now())
}
