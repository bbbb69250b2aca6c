package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"slimhogs/crypto"
)

// AuthConfig configures HS256 bearer tokens. The subject claim names the
// caller address every mutating method acts for.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type Authenticator struct {
	cfg    AuthConfig
	secret []byte
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// Authenticate verifies the bearer token on r and returns the caller address.
func (a *Authenticator) Authenticate(r *http.Request) (common.Address, *RPCError) {
	if len(a.secret) == 0 {
		return common.Address{}, unauthorized("RPC authentication secret not configured")
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return common.Address{}, unauthorized("missing Authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return common.Address{}, unauthorized("Authorization header must use Bearer scheme")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return common.Address{}, unauthorized("missing bearer token")
	}
	caller, err := a.parse(raw)
	if err != nil {
		return common.Address{}, &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials", Data: err.Error(), status: http.StatusUnauthorized}
	}
	return caller, nil
}

func (a *Authenticator) parse(raw string) (common.Address, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	if !token.Valid {
		return common.Address{}, errors.New("token invalid")
	}
	caller, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return common.Address{}, fmt.Errorf("subject: %w", err)
	}
	if caller == (common.Address{}) {
		return common.Address{}, errors.New("subject is the zero address")
	}
	return caller, nil
}

// IssueToken signs a caller token valid for ttl.
func IssueToken(secret, issuer, audience string, caller common.Address, ttl time.Duration) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("rpc: signing secret required")
	}
	if ttl <= 0 {
		return "", errors.New("rpc: token ttl must be positive")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   caller.Hex(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func unauthorized(message string) *RPCError {
	return &RPCError{Code: codeUnauthorized, Message: message, status: http.StatusUnauthorized}
}
