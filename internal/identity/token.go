package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnreadableToken is returned when a token is not a JWT
var ErrUnreadableToken = errors.New("identity: token is not a readable JWT")

// TokenInfo is what a token says about itself. Nothing here is verified;
// it exists for display only and must not be used for access decisions.
type TokenInfo struct {
	Email     string
	UserID    string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// DescribeToken decodes the claims of an ID token without checking its signature
func DescribeToken(token string) (*TokenInfo, error) {
	if token == "" {
		return nil, ErrUnreadableToken
	}

	parsed, _, err := new(jwt.Parser).ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, ErrUnreadableToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnreadableToken
	}

	info := &TokenInfo{}
	if email, ok := claims["email"].(string); ok {
		info.Email = email
	}

	// Identity Toolkit tokens carry user_id; fall back to the standard subject
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		info.UserID = uid
	} else if sub, err := claims.GetSubject(); err == nil {
		info.UserID = sub
	}

	if iss, err := claims.GetIssuer(); err == nil {
		info.Issuer = iss
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}

	return info, nil
}
