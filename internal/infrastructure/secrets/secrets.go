// Package secrets resolves provider credentials by name.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// EnvName maps a secret name to its variable: "oer-appid" becomes OER_APPID.
func EnvName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(name))
}

// Env reads secrets from the process environment.
type Env struct {
	Lookup func(string) (string, bool)
}

var _ application.SecretProvider = Env{}

func (e Env) Get(_ context.Context, name string) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(EnvName(name))
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s (env %s)", domain.ErrSecretNotFound, name, EnvName(name))
	}
	return strings.TrimSpace(v), nil
}

// File reads secrets from a flat YAML map of name to value. The file is
// read on every call; wrap it in Cached to read it once per name.
type File struct {
	Path string
}

var _ application.SecretProvider = File{}

func (f File) Get(_ context.Context, name string) (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", domain.ErrSecretNotFound, f.Path, err)
	}
	var m map[string]string
	if err := yaml.Unmarshal(b, &m); err != nil {
		return "", fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidConfig, f.Path, err)
	}
	v := strings.TrimSpace(m[name])
	if v == "" {
		return "", fmt.Errorf("%w: %s (file %s)", domain.ErrSecretNotFound, name, f.Path)
	}
	return v, nil
}

// Cached memoizes successful lookups for the life of the process.
// Concurrent lookups of one name share a single backend call.
type Cached struct {
	next  application.SecretProvider
	group singleflight.Group
	mu    sync.RWMutex
	vals  map[string]string
}

var _ application.SecretProvider = (*Cached)(nil)

func NewCached(next application.SecretProvider) *Cached {
	return &Cached{next: next, vals: map[string]string{}}
}

func (c *Cached) Get(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	v, ok := c.vals[name]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}
	res, err, _ := c.group.Do(name, func() (any, error) {
		v, err := c.next.Get(ctx, name)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.vals[name] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// Resolve checks that every named secret is available.
func Resolve(ctx context.Context, p application.SecretProvider, names ...string) error {
	for _, n := range names {
		if _, err := p.Get(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
