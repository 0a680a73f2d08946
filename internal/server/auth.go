package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"caseline/internal/domain"
	"caseline/internal/lifecycle"
)

type AuthConfig struct {
	JWTSecret string
	// AllowDevHeaders accepts X-Actor-Id/X-Role/X-Accreditations without a
	// token. Local development only.
	AllowDevHeaders bool
	Logger          *slog.Logger
}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Principal is the resolved caller identity. Unauthenticated requests get a
// public principal: cases are a public registry and reads are open.
type Principal struct {
	ActorID        string
	Role           domain.Role
	Accreditations []int
	Source         string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Principal{Role: domain.RolePublic, Source: "anonymous"}
}

func scopeFromContext(ctx context.Context) *lifecycle.Scope {
	p := principalFromContext(ctx)
	return &lifecycle.Scope{
		ActorID:        p.ActorID,
		Role:           p.Role,
		Accreditations: p.Accreditations,
	}
}

// requireOfficer gates mutations: only the inspecting authority and platform
// operators may create or patch cases.
func requireOfficer(ctx context.Context) huma.StatusError {
	p := principalFromContext(ctx)
	if p.ActorID == "" {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if p.Role != domain.RoleSAS && p.Role != domain.RoleAdmins {
		return newAPIError(http.StatusForbidden, "forbidden", "role cannot modify monitorings", map[string]any{"role": string(p.Role)})
	}
	return nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role           string `json:"role,omitempty"`
	Accreditations []int  `json:"accreditations,omitempty"`
}

func authenticateJWT(token, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	role := domain.Role(claims.Role)
	if role == "" {
		role = domain.RolePublic
	}
	return Principal{
		ActorID:        claims.Subject,
		Role:           role,
		Accreditations: claims.Accreditations,
		Source:         "jwt",
	}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func parseAccreditations(header string) []int {
	var res []int
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			res = append(res, n)
		}
	}
	return res
}

func newAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if devRole := strings.TrimSpace(req.Header.Get("X-Role")); devRole != "" && cfg.AllowDevHeaders {
				actor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))
				if actor == "" {
					actor = "dev"
				}
				cfg.logger().Warn("using dev auth headers", "actor_id", actor, "role", devRole)
				principal := Principal{
					ActorID:        actor,
					Role:           domain.Role(devRole),
					Accreditations: parseAccreditations(req.Header.Get("X-Accreditations")),
					Source:         "dev_header",
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			// Anonymous viewers fall through with the public principal.
			next.ServeHTTP(w, req)
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
