// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// CachingResolver is a [Resolver] caching successful lookups.
//
// Construct using [NewCachingResolver]. Concurrent lookups for the same
// hostname share a single lookup through the underlying [Resolver]. Failed
// lookups are not cached, so that the fallback logic sees fresh errors.
type CachingResolver struct {
	cache *expirable.LRU[string, []string]
	group singleflight.Group
	reso  Resolver
}

var _ Resolver = &CachingResolver{}

// NewCachingResolver wraps reso with a cache holding at most size entries
// each valid for the given ttl. A zero size means no size limit.
func NewCachingResolver(reso Resolver, size int, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		cache: expirable.NewLRU[string, []string](size, nil, ttl),
		reso:  reso,
	}
}

// LookupHost implements [Resolver].
func (r *CachingResolver) LookupHost(ctx context.Context, hostname string) ([]string, error) {
	if addrs, found := r.cache.Get(hostname); found {
		return slices.Clone(addrs), nil
	}

	resch := r.group.DoChan(hostname, func() (any, error) {
		// Callers waiting for the same hostname share the first caller's
		// context, hence its deadline and its errors.
		addrs, err := r.reso.LookupHost(ctx, hostname)
		if err == nil && len(addrs) > 0 {
			r.cache.Add(hostname, addrs)
		}
		return addrs, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]string)), nil
	}
}

// Purge removes all the cached entries.
func (r *CachingResolver) Purge() {
	r.cache.Purge()
}
