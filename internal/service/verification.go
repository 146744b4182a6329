package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/coramini/relay-server-go/internal/clock"
	apperrors "github.com/coramini/relay-server-go/internal/errors"
	"github.com/coramini/relay-server-go/internal/util"
)

const verificationIssuer = "cora-relay"

// VerificationClaims bind a verification token to one pairing code and the
// identity that started the claim. Subject is the user id and ID is the jti.
type VerificationClaims struct {
	Code string `json:"code"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 verification tokens. The JWT only
// proves authenticity and expiry; single use is enforced by the store.
type TokenIssuer struct {
	secret []byte
	clock  clock.Clock
}

// NewTokenIssuer falls back to a random per-process secret when secret is
// empty, so tokens do not survive a restart in that mode.
func NewTokenIssuer(secret string, clk clock.Clock) (*TokenIssuer, error) {
	if secret == "" {
		generated, err := util.GenerateToken()
		if err != nil {
			return nil, fmt.Errorf("generate verification secret: %w", err)
		}
		log.Warn().Msg("VERIFICATION_SECRET is empty: using an ephemeral secret")
		secret = generated
	}
	return &TokenIssuer{secret: []byte(secret), clock: clk}, nil
}

// Mint returns the signed token and its jti. NumericDate keeps whole
// seconds, so exp is rounded up; the store enforces the exact expiry of the
// code on redemption.
func (i *TokenIssuer) Mint(userID, code string, expiresAt time.Time) (string, string, error) {
	exp := expiresAt.Truncate(time.Second)
	if exp.Before(expiresAt) {
		exp = exp.Add(time.Second)
	}

	jti := uuid.NewString()
	claims := VerificationClaims{
		Code: code,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    verificationIssuer,
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(i.clock.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign verification token: %w", err)
	}
	return signed, jti, nil
}

func (i *TokenIssuer) Parse(token string) (*VerificationClaims, error) {
	if token == "" {
		return nil, apperrors.MissingRequired("verification_token")
	}

	parsed, err := jwt.ParseWithClaims(token, &VerificationClaims{}, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(verificationIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.TokenExpired()
		}
		return nil, apperrors.InvalidToken("Invalid verification token")
	}

	claims, ok := parsed.Claims.(*VerificationClaims)
	if !ok || !parsed.Valid || claims.Subject == "" || claims.Code == "" {
		return nil, apperrors.InvalidToken("Invalid verification token")
	}
	return claims, nil
}
