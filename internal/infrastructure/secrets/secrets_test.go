package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketdata-etl/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestEnvName(t *testing.T) {
	require.Equal(t, "OER_APPID", EnvName("oer-appid"))
	require.Equal(t, "STOCKDATA_API_TOKEN", EnvName("stockdata-api-token"))
}

func TestEnv(t *testing.T) {
	env := Env{Lookup: func(k string) (string, bool) {
		if k == "OER_APPID" {
			return " abc \n", true
		}
		return "", false
	}}
	v, err := env.Get(context.Background(), "oer-appid")
	require.NoError(t, err)
	require.Equal(t, "abc", v)

	_, err = env.Get(context.Background(), "stockdata-api-token")
	require.ErrorIs(t, err, domain.ErrSecretNotFound)
	require.True(t, domain.IsFatal(err))
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("oer-appid: app123\nstockdata-api-token: tok\n"), 0o600))

	f := File{Path: path}
	v, err := f.Get(context.Background(), "stockdata-api-token")
	require.NoError(t, err)
	require.Equal(t, "tok", v)

	_, err = f.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrSecretNotFound)

	_, err = File{Path: filepath.Join(t.TempDir(), "nope.yaml")}.Get(context.Background(), "oer-appid")
	require.ErrorIs(t, err, domain.ErrSecretNotFound)
}

type countingProvider struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (c *countingProvider) Get(_ context.Context, name string) (string, error) {
	c.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	if c.fail.Load() {
		return "", domain.ErrSecretNotFound
	}
	return "v-" + name, nil
}

func TestCached_SharesConcurrentLookups(t *testing.T) {
	next := &countingProvider{}
	c := NewCached(next)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "oer-appid")
			require.NoError(t, err)
			require.Equal(t, "v-oer-appid", v)
		}()
	}
	wg.Wait()
	first := next.calls.Load()
	require.LessOrEqual(t, first, int32(2))

	_, err := c.Get(context.Background(), "oer-appid")
	require.NoError(t, err)
	require.Equal(t, first, next.calls.Load(), "served from cache")
}

func TestCached_DoesNotCacheFailures(t *testing.T) {
	next := &countingProvider{}
	next.fail.Store(true)
	c := NewCached(next)

	_, err := c.Get(context.Background(), "oer-appid")
	require.ErrorIs(t, err, domain.ErrSecretNotFound)

	next.fail.Store(false)
	v, err := c.Get(context.Background(), "oer-appid")
	require.NoError(t, err)
	require.Equal(t, "v-oer-appid", v)
	require.Equal(t, int32(2), next.calls.Load())
}

func TestResolve(t *testing.T) {
	env := Env{Lookup: func(k string) (string, bool) { return "x", k == "OER_APPID" }}
	require.NoError(t, Resolve(context.Background(), env, "oer-appid"))
	require.ErrorIs(t, Resolve(context.Background(), env, "oer-appid", "stockdata-api-token"), domain.ErrSecretNotFound)
}
