// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachingResolver(t *testing.T) {
	t.Run("caches successful lookups", func(t *testing.T) {
		var count atomic.Int64
		reso := NewCachingResolver(ResolverFunc(func(ctx context.Context, hostname string) ([]string, error) {
			count.Add(1)
			return []string{"10.0.0.1"}, nil
		}), 16, time.Minute)

		for range 3 {
			addrs, err := reso.LookupHost(context.Background(), "example.test")
			require.NoError(t, err)
			require.Equal(t, []string{"10.0.0.1"}, addrs)
		}
		require.Equal(t, int64(1), count.Load())

		reso.Purge()
		_, err := reso.LookupHost(context.Background(), "example.test")
		require.NoError(t, err)
		require.Equal(t, int64(2), count.Load())
	})

	t.Run("returns copies", func(t *testing.T) {
		reso := NewCachingResolver(ResolverFunc(func(ctx context.Context, hostname string) ([]string, error) {
			return []string{"10.0.0.1"}, nil
		}), 16, time.Minute)
		addrs, err := reso.LookupHost(context.Background(), "example.test")
		require.NoError(t, err)
		addrs[0] = "10.0.0.2"
		addrs, err = reso.LookupHost(context.Background(), "example.test")
		require.NoError(t, err)
		require.Equal(t, []string{"10.0.0.1"}, addrs)
	})

	t.Run("does not cache failures", func(t *testing.T) {
		var count atomic.Int64
		expected := errors.New("no such host")
		reso := NewCachingResolver(ResolverFunc(func(ctx context.Context, hostname string) ([]string, error) {
			count.Add(1)
			return nil, expected
		}), 16, time.Minute)
		for range 2 {
			_, err := reso.LookupHost(context.Background(), "example.test")
			require.ErrorIs(t, err, expected)
		}
		require.Equal(t, int64(2), count.Load())
	})

	t.Run("entries expire", func(t *testing.T) {
		var count atomic.Int64
		reso := NewCachingResolver(ResolverFunc(func(ctx context.Context, hostname string) ([]string, error) {
			count.Add(1)
			return []string{"10.0.0.1"}, nil
		}), 16, 10*time.Millisecond)
		_, err := reso.LookupHost(context.Background(), "example.test")
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
		_, err = reso.LookupHost(context.Background(), "example.test")
		require.NoError(t, err)
		require.Equal(t, int64(2), count.Load())
	})

	t.Run("deduplicates concurrent lookups", func(t *testing.T) {
		var count atomic.Int64
		unblock := make(chan struct{})
		reso := NewCachingResolver(ResolverFunc(func(ctx context.Context, hostname string) ([]string, error) {
			count.Add(1)
			<-unblock
			return []string{"10.0.0.1"}, nil
		}), 16, time.Minute)

		const parallelism = 8
		var wg sync.WaitGroup
		for range parallelism {
			wg.Add(1)
			go func() {
				defer wg.Done()
				addrs, err := reso.LookupHost(context.Background(), "example.test")
				assert.NoError(t, err)
				assert.Equal(t, []string{"10.0.0.1"}, addrs)
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(unblock)
		wg.Wait()
		require.Equal(t, int64(1), count.Load())
	})

	t.Run("honors the caller context", func(t *testing.T) {
		unblock := make(chan struct{})
		defer close(unblock)
		reso := NewCachingResolver(ResolverFunc(func(ctx context.Context, hostname string) ([]string, error) {
			<-unblock
			return []string{"10.0.0.1"}, nil
		}), 16, time.Minute)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := reso.LookupHost(ctx, "example.test")
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
