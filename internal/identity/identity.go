// Package identity resolves the caller of an HTTP request from a bearer
// token. Resolution fails open: a missing, malformed, or expired token
// yields no identity and the request proceeds as anonymous rather than
// being rejected.
package identity

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller extracted from a verified token.
type Identity struct {
	Subject string
	Email   string
}

// Resolver extracts an Identity from a request. A nil Identity with a nil
// error means the caller is anonymous.
type Resolver interface {
	Resolve(r *http.Request) (*Identity, error)
}

// Config holds the token verification settings.
type Config struct {
	// Secret is the HS256 signing secret shared with the auth frontend.
	Secret string

	// Issuer is the expected iss claim. Empty disables the check.
	Issuer string

	// Audience is the expected aud claim. Empty disables the check.
	Audience string
}

type jwtResolver struct {
	secret  []byte
	options []jwtlib.ParserOption
	logger  *slog.Logger
}

// NewJWTResolver creates a Resolver that verifies HS256 bearer tokens.
func NewJWTResolver(cfg Config, logger *slog.Logger) Resolver {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	return &jwtResolver{
		secret:  []byte(cfg.Secret),
		options: opts,
		logger:  logger,
	}
}

func (j *jwtResolver) Resolve(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return nil, nil
	}

	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == "" {
		return nil, nil
	}

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, j.options...)
	if err != nil {
		// Bad tokens downgrade to anonymous instead of failing the
		// request.
		j.logger.Debug("token validation failed, treating as anonymous", "error", err)
		return nil, nil
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		j.logger.Debug("token claims unusable, treating as anonymous")
		return nil, nil
	}

	subject := claimString(claims, "sub")
	if subject == "" {
		j.logger.Debug("token missing sub claim, treating as anonymous")
		return nil, nil
	}

	return &Identity{
		Subject: subject,
		Email:   claimString(claims, "email"),
	}, nil
}

func claimString(claims jwtlib.MapClaims, key string) string {
	val, ok := claims[key]
	if !ok {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		return ""
	}
	return s
}
