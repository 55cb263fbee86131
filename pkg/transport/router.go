package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/marmos91/moji/pkg/tracker"
)

// Router dispatches each destination to the factory registered for its URL scheme.
//
// Register all factories before first use; Router is not safe for concurrent
// registration, only for concurrent transfers.
type Router struct {
	factories map[string]ConnectionFactory
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{factories: make(map[string]ConnectionFactory)}
}

// Register makes f handle destinations with the given schemes.
func (r *Router) Register(f ConnectionFactory, schemes ...string) {
	for _, s := range schemes {
		r.factories[strings.ToLower(s)] = f
	}
}

// Schemes returns the registered schemes in sorted order.
func (r *Router) Schemes() []string {
	schemes := make([]string, 0, len(r.factories))
	for s := range r.factories {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

func (r *Router) route(dest tracker.Destination) (ConnectionFactory, error) {
	u, err := url.Parse(dest.URL)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidDestination, dest.URL, err)
	}

	f, ok := r.factories[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w %q (%s)", ErrUnsupportedScheme, u.Scheme, dest.URL)
	}
	return f, nil
}

func (r *Router) OpenRead(ctx context.Context, dest tracker.Destination) (io.ReadCloser, error) {
	f, err := r.route(dest)
	if err != nil {
		return nil, err
	}
	return f.OpenRead(ctx, dest)
}

func (r *Router) OpenWrite(ctx context.Context, dest tracker.Destination, expectedLength int64) (Upload, error) {
	f, err := r.route(dest)
	if err != nil {
		return nil, err
	}
	return f.OpenWrite(ctx, dest, expectedLength)
}

func (r *Router) ContentLength(ctx context.Context, dest tracker.Destination) (int64, error) {
	f, err := r.route(dest)
	if err != nil {
		return 0, err
	}
	return f.ContentLength(ctx, dest)
}
