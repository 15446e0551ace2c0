// Package tokens issues and verifies the HS256 access and refresh tokens
// handed to clients after authentication.
package tokens

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/coach-accounts/models"
)

var (
	// ErrInvalidToken is returned when the token is malformed, badly signed,
	// or bound to another issuer or audience
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrWrongTokenType is returned when a correctly signed token has the wrong typ claim
	ErrWrongTokenType = errors.New("wrong token type")
)

// Token classes carried in the typ claim
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Default lifetimes
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Config holds configuration for Issuer
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      string
	// Now is the clock used for iat/exp and validation. Defaults to time.Now.
	Now func() time.Time
}

// AccessClaims is the identity carried by an access token
type AccessClaims struct {
	AccountID int64
	Email     string
	Role      models.Role
	ExpiresAt time.Time
}

// RefreshClaims is the identity carried by a refresh token
type RefreshClaims struct {
	AccountID int64
	Version   int
	ExpiresAt time.Time
}

// Pair is a freshly minted access and refresh token
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type accessJWT struct {
	jwt.RegisteredClaims
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	Type  string      `json:"typ"`
}

type refreshJWT struct {
	jwt.RegisteredClaims
	Type    string `json:"typ"`
	Version int    `json:"ver"`
}

// Issuer signs and verifies tokens. Access and refresh tokens use separate
// secrets so one class can never be verified as the other.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	audience      string
	now           func() time.Time
}

// NewIssuer creates a new token issuer
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Issuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		now:           cfg.Now,
	}, nil
}

func (i *Issuer) registered(subject int64, ttl time.Duration) jwt.RegisteredClaims {
	now := i.now()
	rc := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(subject, 10),
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if i.audience != "" {
		rc.Audience = jwt.ClaimStrings{i.audience}
	}
	return rc
}

// IssueAccess signs an access token for the given identity
func (i *Issuer) IssueAccess(claims AccessClaims) (string, time.Time, error) {
	c := accessJWT{
		RegisteredClaims: i.registered(claims.AccountID, i.accessTTL),
		Email:            claims.Email,
		Role:             claims.Role,
		Type:             TypeAccess,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, c.ExpiresAt.Time, nil
}

// IssueRefresh signs a refresh token bound to the account's current token version
func (i *Issuer) IssueRefresh(accountID int64, version int) (string, time.Time, error) {
	c := refreshJWT{
		RegisteredClaims: i.registered(accountID, i.refreshTTL),
		Type:             TypeRefresh,
		Version:          version,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, c.ExpiresAt.Time, nil
}

// IssuePair mints an access token and a refresh token for the account
func (i *Issuer) IssuePair(account *models.Account) (*Pair, error) {
	access, accessExp, err := i.IssueAccess(AccessClaims{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
	})
	if err != nil {
		return nil, err
	}

	refresh, refreshExp, err := i.IssueRefresh(account.ID, account.TokenVersion)
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}
	return jwt.NewParser(opts...)
}

// VerifyAccess validates an access token and returns its identity
func (i *Issuer) VerifyAccess(tokenString string) (*AccessClaims, error) {
	var c accessJWT
	if _, err := i.parser().ParseWithClaims(tokenString, &c, func(*jwt.Token) (interface{}, error) {
		return i.accessSecret, nil
	}); err != nil {
		return nil, mapJWTError(err)
	}

	if c.Type != TypeAccess {
		return nil, ErrWrongTokenType
	}
	id, err := parseSubject(c.Subject)
	if err != nil {
		return nil, err
	}

	return &AccessClaims{
		AccountID: id,
		Email:     c.Email,
		Role:      c.Role,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// VerifyRefresh validates a refresh token. A token whose typ claim is not
// "refresh" is rejected even when its signature is valid.
func (i *Issuer) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	var c refreshJWT
	if _, err := i.parser().ParseWithClaims(tokenString, &c, func(*jwt.Token) (interface{}, error) {
		return i.refreshSecret, nil
	}); err != nil {
		return nil, mapJWTError(err)
	}

	if c.Type != TypeRefresh {
		return nil, ErrWrongTokenType
	}
	id, err := parseSubject(c.Subject)
	if err != nil {
		return nil, err
	}

	return &RefreshClaims{
		AccountID: id,
		Version:   c.Version,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// RefreshTTL returns the refresh token lifetime, used for cookie Max-Age
func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

func parseSubject(sub string) (int64, error) {
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return id, nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
