package scheduler

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

var (
	globCacheMu sync.RWMutex
	globCache   = make(map[string]glob.Glob)
)

// MatchesNode reports whether a schedule's node affinity selects nodeName.
// Empty and "*" match every node; other values are exact names or glob
// patterns such as "worker-*".
func MatchesNode(affinity, nodeName string) bool {
	affinity = strings.TrimSpace(affinity)
	if affinity == "" || affinity == "*" || affinity == nodeName {
		return true
	}
	if !strings.ContainsAny(affinity, "*?[{") {
		return false
	}

	g, err := compileAffinity(affinity)
	if err != nil {
		return false
	}
	return g.Match(nodeName)
}

// ValidateAffinity checks that a node affinity pattern compiles.
func ValidateAffinity(affinity string) error {
	affinity = strings.TrimSpace(affinity)
	if affinity == "" || affinity == "*" || !strings.ContainsAny(affinity, "*?[{") {
		return nil
	}
	_, err := compileAffinity(affinity)
	return err
}

func compileAffinity(pattern string) (glob.Glob, error) {
	globCacheMu.RLock()
	g, ok := globCache[pattern]
	globCacheMu.RUnlock()
	if ok {
		return g, nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}

	globCacheMu.Lock()
	globCache[pattern] = g
	globCacheMu.Unlock()
	return g, nil
}
