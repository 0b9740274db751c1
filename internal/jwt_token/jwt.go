package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"sentinel-sos/pkg/domain"
	dErrors "sentinel-sos/pkg/domain-errors"
	"sentinel-sos/pkg/requestcontext"
)

// Claims represents the JWT claims for subject and operator access tokens.
// The registered "sub" claim carries the subject or operator ID.
type Claims struct {
	Kind    string `json:"kind"`
	Address string `json:"address,omitempty"`
	Role    string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTService handles JWT creation and validation
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

// GenerateSubjectToken issues a token bound to a wallet address.
func (s *JWTService) GenerateSubjectToken(id domain.SubjectID, address domain.Address, expiresIn time.Duration) (string, error) {
	return s.sign(Claims{
		Kind:    string(requestcontext.KindSubject),
		Address: address.String(),
	}, id.String(), expiresIn)
}

// GenerateOperatorToken issues a token for responder staff.
func (s *JWTService) GenerateOperatorToken(id domain.OperatorID, role string, expiresIn time.Duration) (string, error) {
	return s.sign(Claims{
		Kind: string(requestcontext.KindOperator),
		Role: role,
	}, id.String(), expiresIn)
}

func (s *JWTService) sign(claims Claims, subject string, expiresIn time.Duration) (string, error) {
	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    s.issuer,
		Audience:  []string{s.audience},
		ID:        uuid.NewString(),
	}
	signedToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signedToken, nil
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
