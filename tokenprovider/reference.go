package tokenprovider

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// SharedState is the lifetime-long object spec.md §3 describes: a binary
// semaphore guarding refresh operations (here, a singleflight.Group keyed
// on a single constant key, since one SharedState is scoped to exactly one
// identity realm — see spec.md §9's "configure one provider per identity
// realm") plus the last access-token value a session-expired notification
// was delivered for. Share one SharedState across every Reference instance
// that addresses the same identity provider.
type SharedState[T Token] struct {
	sf singleflight.Group

	mu                     sync.Mutex
	hasLastExpired         bool
	lastExpiredAccessToken string
}

// NewSharedState creates an empty SharedState.
func NewSharedState[T Token]() *SharedState[T] {
	return &SharedState[T]{}
}

// GetFunc fetches the currently known token.
type GetFunc[T Token] func(ctx context.Context, req Requester) (T, bool, error)

// RefreshFunc attempts to obtain a fresh token given the one observed to
// fail. It returns an error if the underlying refresh call itself failed;
// Reference swallows that error per spec.md §4.3's "failure swallow" rule.
type RefreshFunc[T Token] func(ctx context.Context, req Requester, unauthorized T) (T, error)

// SessionExpiredFunc is invoked at most once per distinct expired-token
// value across every Reference sharing the same SharedState.
type SessionExpiredFunc[T Token] func(ctx context.Context, req Requester, expired T)

// Reference is the reference concurrent Provider implementation described
// in spec.md §4.3: single-flight refresh, piggyback on a concurrent
// refresh, failure swallowing, cancellation-insensitive refresh body, and
// at-most-once session-expired notification.
type Reference[T Token] struct {
	state            *SharedState[T]
	get              GetFunc[T]
	refresh          RefreshFunc[T]
	onSessionExpired SessionExpiredFunc[T]
}

// New builds a Reference provider sharing state.
func New[T Token](state *SharedState[T], get GetFunc[T], refresh RefreshFunc[T], onSessionExpired SessionExpiredFunc[T]) *Reference[T] {
	return &Reference[T]{state: state, get: get, refresh: refresh, onSessionExpired: onSessionExpired}
}

// GetToken implements Provider.
func (r *Reference[T]) GetToken(ctx context.Context, req Requester) (T, bool, error) {
	return r.get(ctx, req)
}

type refreshOutcome[T Token] struct {
	token T
	ok    bool
}

// RefreshToken implements Provider. The waiting-for-the-semaphore phase
// respects ctx; once this call becomes the leader of the singleflight
// group, the refresh body runs on a context detached from every caller's
// cancellation (spec.md §4.3 point 4 and §5's "cancellation-insensitive
// refresh"), so a cancelled caller can never leave the group's next waiter
// looking at a half-refreshed state.
func (r *Reference[T]) RefreshToken(ctx context.Context, req Requester, unauthorized T) (T, bool, error) {
	resultCh := r.state.sf.DoChan("refresh", func() (interface{}, error) {
		return r.doRefresh(context.WithoutCancel(ctx), req, unauthorized)
	})

	select {
	case res := <-resultCh:
		out := res.Val.(refreshOutcome[T])
		return out.token, out.ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// doRefresh runs inside the singleflight critical section. It never returns
// an error: every failure path (no refresh possible, underlying refresh
// call failing) resolves to an absent token, so RefreshToken's caller gets
// a clean "absent" signal and can proceed straight to session-expired.
func (r *Reference[T]) doRefresh(ctx context.Context, req Requester, unauthorized T) (interface{}, error) {
	current, ok, err := r.get(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("tokenprovider: get_token failed during refresh, treating as absent")
		return refreshOutcome[T]{}, nil
	}

	if ok && !sameAccessToken[T](current, unauthorized) {
		// A concurrent refresh already landed a different token; piggyback
		// on it instead of hitting the network again.
		return refreshOutcome[T]{token: current, ok: true}, nil
	}

	if !ok || !current.CanBeRefreshed() {
		return refreshOutcome[T]{}, nil
	}

	refreshed, err := r.refresh(ctx, req, unauthorized)
	if err != nil {
		log.Warn().Err(err).Msg("tokenprovider: refresh_token failed, session likely expired")
		return refreshOutcome[T]{}, nil
	}

	return refreshOutcome[T]{token: refreshed, ok: true}, nil
}

// NotifySessionExpired implements Provider, with dedup keyed on the expired
// token's access-token value (spec.md §4.3 point 5). This is the
// authoritative dedup when a SharedState is shared across middleware
// instances; authmw additionally keeps a handler-local fallback for callers
// who don't share a provider.
func (r *Reference[T]) NotifySessionExpired(ctx context.Context, req Requester, expired T) {
	value, _ := expired.AccessToken()

	r.state.mu.Lock()
	if r.state.hasLastExpired && r.state.lastExpiredAccessToken == value {
		r.state.mu.Unlock()
		return
	}
	r.state.hasLastExpired = true
	r.state.lastExpiredAccessToken = value
	r.state.mu.Unlock()

	if r.onSessionExpired != nil {
		r.onSessionExpired(ctx, req, expired)
	}
}

var _ Provider[stubToken] = (*Reference[stubToken])(nil)

// stubToken only exists to pin the compile-time interface assertion above
// to a concrete type parameter.
type stubToken struct{}

func (stubToken) AccessToken() (string, bool) { return "", false }
func (stubToken) CanBeRefreshed() bool         { return false }
