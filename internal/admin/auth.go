package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

var ErrUnauthorized = errors.New("admin role required")

// Authorizer decides whether a bearer token carries the admin role.
type Authorizer interface {
	Authorize(ctx context.Context, token string) error
}

// StaticTokenAuthorizer accepts a single shared token. With an empty token
// every request is refused.
type StaticTokenAuthorizer struct {
	token string
}

func NewStaticTokenAuthorizer(token string) *StaticTokenAuthorizer {
	return &StaticTokenAuthorizer{token: token}
}

func (a *StaticTokenAuthorizer) Authorize(_ context.Context, token string) error {
	if a.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func bearerAuth(api huma.API, authz Authorizer) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		token, ok := strings.CutPrefix(ctx.Header("Authorization"), "Bearer ")
		if !ok || token == "" {
			_ = huma.WriteErr(api, ctx, 401, "missing bearer token")
			return
		}
		if err := authz.Authorize(ctx.Context(), strings.TrimSpace(token)); err != nil {
			_ = huma.WriteErr(api, ctx, 403, err.Error())
			return
		}
		next(ctx)
	}
}
