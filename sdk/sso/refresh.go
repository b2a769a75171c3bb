package sso

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/alien-org/alien-sso-go/sdk/session"
	"github.com/alien-org/alien-sso-go/sdk/ssoerr"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrNoRefreshToken is returned when a refresh is requested without a stored refresh token.
var ErrNoRefreshToken = errors.New("alien sso: no refresh token")

const refreshKey = "refresh"

// RefreshFunc trades a refresh token for a new bundle.
type RefreshFunc func(ctx context.Context, refreshToken string) (session.TokenBundle, error)

// RefreshCoordinator collapses concurrent refreshes of one client into a single request.
// Each client owns its coordinator; independent clients never share refresh state.
type RefreshCoordinator struct {
	group   singleflight.Group
	session *session.Session
	refresh RefreshFunc
	flights atomic.Int64
}

// NewRefreshCoordinator creates a coordinator persisting results into s.
func NewRefreshCoordinator(s *session.Session, fn RefreshFunc) *RefreshCoordinator {
	return &RefreshCoordinator{session: s, refresh: fn}
}

// Refresh returns the refreshed bundle. While a refresh is in flight, callers join it instead
// of starting another. A failed refresh clears every stored token before the error is returned.
// The shared request is detached from the caller's cancellation so one impatient caller
// cannot fail the others; a caller whose ctx ends stops waiting with ctx.Err().
func (r *RefreshCoordinator) Refresh(ctx context.Context) (*session.TokenBundle, error) {
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(refreshKey, func() (interface{}, error) {
		r.flights.Add(1)
		return r.run(detached)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("alien sso: refresh: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		bundle := *res.Val.(*session.TokenBundle)
		return &bundle, nil
	}
}

// Flights reports how many refresh requests were actually issued.
func (r *RefreshCoordinator) Flights() int64 { return r.flights.Load() }

func (r *RefreshCoordinator) run(ctx context.Context) (*session.TokenBundle, error) {
	refreshToken, ok, err := r.session.RefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.clear(ctx)
		return nil, ErrNoRefreshToken
	}
	bundle, err := r.refresh(ctx, refreshToken)
	if err != nil {
		r.clear(ctx)
		return nil, err
	}
	if bundle.RefreshToken == "" {
		bundle.RefreshToken = refreshToken
	}
	if err = r.session.SaveBundle(ctx, bundle); err != nil {
		r.clear(ctx)
		return nil, fmt.Errorf("alien sso: store refreshed tokens: %w", err)
	}
	return &bundle, nil
}

func (r *RefreshCoordinator) clear(ctx context.Context) {
	if err := r.session.ClearTokens(ctx); err != nil {
		log.Errorf("alien sso refresh: clear tokens error: %v", err)
	}
}

// Refresher is implemented by clients that can refresh their tokens.
type Refresher interface {
	RefreshAccessToken(ctx context.Context) (*session.TokenBundle, error)
	HasRefreshToken(ctx context.Context) bool
}

// WithAutoRefresh calls fn and, when it fails with an unauthorized error while a refresh
// token is stored, refreshes and retries up to maxRetries times (maxRetries <= 0 means 1).
// When the refresh or the retry fails the original error is returned.
func WithAutoRefresh[T any](ctx context.Context, r Refresher, fn func(context.Context) (T, error), maxRetries int) (T, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	out, err := fn(ctx)
	if err == nil {
		return out, nil
	}
	original := err
	for attempt := 0; attempt < maxRetries; attempt++ {
		if !ssoerr.IsUnauthorized(err) || !r.HasRefreshToken(ctx) {
			break
		}
		if _, errRefresh := r.RefreshAccessToken(ctx); errRefresh != nil {
			log.Debugf("alien sso: refresh after unauthorized failed: %v", errRefresh)
			break
		}
		out, err = fn(ctx)
		if err == nil {
			return out, nil
		}
	}
	var zero T
	return zero, original
}
