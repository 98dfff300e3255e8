package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the identity claims carried by a channel/API token.
type Claims struct {
	PartyID     string
	DisplayName string
}

// TokenService wraps JWT creation and validation for channel connects and
// API calls.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// CreateForParty creates a token identifying the given party.
func (t *TokenService) CreateForParty(partyID, displayName string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  partyID,
		"name": displayName,
		"iat":  now.Unix(),
		"exp":  now.Add(t.expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates a token and returns the identity claims.
func (t *TokenService) Parse(tokenStr string) (Claims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	if !token.Valid {
		return Claims{}, jwt.ErrSignatureInvalid
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, jwt.ErrTokenMalformed
	}
	sub, _ := mc["sub"].(string)
	if sub == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", jwt.ErrTokenInvalidClaims)
	}
	name, _ := mc["name"].(string)
	return Claims{PartyID: sub, DisplayName: name}, nil
}
