package apiguard

import (
	"context"
	"sync"
)

// principal is filled in by handlers once the caller is authenticated so the
// API call record written after the handler can attribute the request
type principal struct {
	mu        sync.Mutex
	userID    string
	companyID string
}

type principalContextKey struct{}

func withPrincipal(ctx context.Context) (context.Context, *principal) {
	p := &principal{}
	return context.WithValue(ctx, principalContextKey{}, p), p
}

// SetPrincipal records the authenticated user and company for the current
// request. It is a no-op outside a Server.Handler chain.
func SetPrincipal(ctx context.Context, userID, companyID string) {
	p, ok := ctx.Value(principalContextKey{}).(*principal)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userID, p.companyID = userID, companyID
}

func (p *principal) get() (userID, companyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID, p.companyID
}
