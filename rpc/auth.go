package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"stakevault/observability/logging"
)

const (
	defaultAdminScope = "staking.admin"
	defaultClockSkew  = 2 * time.Minute
)

// JWTConfig controls authentication for the admin_* methods. Admin calls are
// rejected outright when Enable is false.
type JWTConfig struct {
	Enable    bool
	Secret    string
	Issuer    string
	Audience  string
	Scope     string
	ClockSkew time.Duration
}

type adminVerifier struct {
	cfg    JWTConfig
	secret []byte
}

func newAdminVerifier(cfg JWTConfig) (*adminVerifier, error) {
	if !cfg.Enable {
		return nil, nil
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("rpc: admin JWT enabled without a secret")
	}
	if strings.TrimSpace(cfg.Scope) == "" {
		cfg.Scope = defaultAdminScope
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = defaultClockSkew
	}
	return &adminVerifier{cfg: cfg, secret: []byte(secret)}, nil
}

// requireAdmin authenticates an admin request via HS256 JWT. The token must
// be signed with the configured secret and carry the admin scope.
func (s *Server) requireAdmin(r *http.Request) *RPCError {
	if s.admin == nil {
		return &RPCError{Code: codeUnauthorized, Message: "admin authentication not configured"}
	}
	tokenString, err := extractBearer(r)
	if err != nil {
		return &RPCError{Code: codeUnauthorized, Message: err.Error()}
	}
	claims, err := s.admin.verify(tokenString)
	if err != nil {
		s.logger.Warn("admin token rejected",
			logging.MaskField("token", tokenString),
			"reason", err.Error())
		return &RPCError{Code: codeUnauthorized, Message: "invalid admin token"}
	}
	if !hasScope(extractScopes(claims), s.admin.cfg.Scope) {
		return &RPCError{Code: codeUnauthorized, Message: "insufficient scope"}
	}
	return nil
}

func (v *adminVerifier) verify(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims payload")
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *adminVerifier) validateClaims(claims jwt.MapClaims) error {
	if issuer := strings.TrimSpace(v.cfg.Issuer); issuer != "" {
		value, _ := claims["iss"].(string)
		if value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience := strings.TrimSpace(v.cfg.Audience); audience != "" {
		if !audienceContains(claims["aud"], audience) {
			return errors.New("audience mismatch")
		}
	}
	if _, ok := claims["exp"]; !ok {
		return errors.New("token missing expiry")
	}
	return nil
}

func audienceContains(claim interface{}, want string) bool {
	switch value := claim.(type) {
	case string:
		return value == want
	case []interface{}:
		for _, entry := range value {
			if text, ok := entry.(string); ok && text == want {
				return true
			}
		}
	case []string:
		for _, entry := range value {
			if entry == want {
				return true
			}
		}
	}
	return false
}

// extractScopes reads the "scope" claim, accepting either an OAuth-style
// space-separated string or a string array.
func extractScopes(claims jwt.MapClaims) []string {
	switch value := claims["scope"].(type) {
	case string:
		return strings.Fields(value)
	case []interface{}:
		scopes := make([]string, 0, len(value))
		for _, entry := range value {
			if text, ok := entry.(string); ok {
				scopes = append(scopes, text)
			}
		}
		return scopes
	}
	return nil
}

func hasScope(scopes []string, want string) bool {
	for _, scope := range scopes {
		if scope == want {
			return true
		}
	}
	return false
}

func extractBearer(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("bearer token required")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("bearer token required")
	}
	return token, nil
}
