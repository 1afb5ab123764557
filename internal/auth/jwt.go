package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	// ErrReservedSubject marks the internal actor id, which no token may carry.
	ErrReservedSubject = errors.New("subject is reserved")
)

// Resolver turns a bearer credential into a trusted Actor.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (domain.Actor, error)
}

// Claims carried by memlayer tokens. The subject is the actor id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ExtractToken extracts the token from an Authorization header value in
// "Bearer <token>" form.
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingToken
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// JWT signs and verifies HS256 tokens.
type JWT struct {
	secret []byte
	issuer string
	roles  *RoleCache
}

func NewJWT(secret, issuer string, roles *RoleCache) (*JWT, error) {
	if secret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	return &JWT{secret: []byte(secret), issuer: issuer, roles: roles}, nil
}

// Issue creates a token for subject with the given role, valid for ttl.
func (j *JWT) Issue(subject string, role domain.Role, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if subject == domain.SystemActorID {
		return "", fmt.Errorf("%w: %q", ErrReservedSubject, subject)
	}
	if !domain.ValidRole(string(role)) {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Resolve verifies the token and returns its actor. A role override in the
// role store takes precedence over the role claim.
func (j *JWT) Resolve(ctx context.Context, credential string) (domain.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if claims.Subject == domain.SystemActorID {
		return domain.Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, ErrReservedSubject)
	}

	role := domain.Role(claims.Role)
	if !domain.ValidRole(claims.Role) {
		role = domain.RoleUser
	}
	if j.roles != nil {
		override, err := j.roles.Lookup(ctx, claims.Subject)
		if err != nil {
			return domain.Actor{}, err
		}
		if override != "" {
			role = override
		}
	}

	return domain.Actor{ID: claims.Subject, Role: role}, nil
}
