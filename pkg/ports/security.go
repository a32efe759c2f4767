package ports

import (
	"context"

	"github.com/aretw0/stateful/pkg/domain"
)

// Authorizer decides whether the caller in ctx may invoke a method.
type Authorizer interface {
	IsAuthorized(ctx context.Context, componentID string, m domain.Method) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, componentID string, m domain.Method) bool

func (f AuthorizerFunc) IsAuthorized(ctx context.Context, componentID string, m domain.Method) bool {
	return f(ctx, componentID, m)
}

// AllowAll authorizes every call.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, string, domain.Method) bool { return true })
