// Package resolver turns a declarative proxy-pool configuration into
// tiered fallback lists. It performs no I/O: resolution happens once,
// eagerly, at config-load time, so runtime code never walks the
// fallback graph.
package resolver

import (
	"fmt"
	"strings"

	"github.com/oiwn/fetchbox/pkg/config"
	"github.com/oiwn/fetchbox/pkg/types"
)

// ErrorKind distinguishes the two resolution failure modes.
type ErrorKind int

const (
	PoolNotFound ErrorKind = iota
	CycleDetected
)

// Error is returned by Resolve/ResolveAll. For CycleDetected, Path is
// the arrow-joined sequence of pool names that closes the cycle.
type Error struct {
	Kind ErrorKind
	Pool string
	Path string
}

func (e *Error) Error() string {
	switch e.Kind {
	case CycleDetected:
		return fmt.Sprintf("resolver: cycle detected in proxy fallback chain: %s", e.Path)
	default:
		return fmt.Sprintf("resolver: proxy pool %q not found", e.Pool)
	}
}

// Graph resolves pool names against a fixed set of pool configs.
type Graph struct {
	pools map[string]config.ProxyPoolConfig
}

// New builds a Graph over the given pool configuration.
func New(proxy config.ProxyConfig) *Graph {
	return &Graph{pools: proxy.Pools}
}

// Resolve turns pool_name into a ResolvedProxyPool: tier 0 is the
// pool's own primaries; tiers 1..k are the primaries of each fallback,
// visited depth-first in declared order. A pool reappearing on the
// current DFS path fails with CycleDetected carrying the full path,
// arrow-joined. A fallback name absent from the pool map fails with
// PoolNotFound.
func (g *Graph) Resolve(poolName string) (types.ResolvedProxyPool, error) {
	var tiers [][]types.ProxyEndpoint
	path := make([]string, 0, 4)
	if err := g.resolveRecursive(poolName, path, &tiers); err != nil {
		return types.ResolvedProxyPool{}, err
	}
	return types.ResolvedProxyPool{Tiers: tiers}, nil
}

func (g *Graph) resolveRecursive(current string, path []string, tiers *[][]types.ProxyEndpoint) error {
	name := strings.TrimPrefix(current, "pools/")

	for _, p := range path {
		if p == name {
			cyclePath := append(append([]string{}, path...), name)
			return &Error{Kind: CycleDetected, Path: strings.Join(cyclePath, "->")}
		}
	}
	path = append(path, name)

	pool, ok := g.pools[name]
	if !ok {
		return &Error{Kind: PoolNotFound, Pool: name}
	}

	endpoints := make([]types.ProxyEndpoint, 0, len(pool.Primary))
	for _, uri := range pool.Primary {
		endpoints = append(endpoints, types.ProxyEndpoint{URI: uri})
	}
	*tiers = append(*tiers, endpoints)

	for _, fallback := range pool.Fallbacks {
		if err := g.resolveRecursive(fallback, path, tiers); err != nil {
			return err
		}
	}
	return nil
}

// ResolveAll resolves every declared pool, short-circuiting on the
// first failure.
func (g *Graph) ResolveAll() (map[string]types.ResolvedProxyPool, error) {
	resolved := make(map[string]types.ResolvedProxyPool, len(g.pools))
	for name := range g.pools {
		r, err := g.Resolve(name)
		if err != nil {
			return nil, err
		}
		resolved[name] = r
	}
	return resolved, nil
}
