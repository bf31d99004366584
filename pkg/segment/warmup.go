package segment

import (
	"github.com/ajitpratap0/strata/pkg/config"
)

// WarmupPolicy controls whether cells are loaded into the cache
// eagerly when a segment is opened.
type WarmupPolicy string

const (
	// WarmupDisable loads cells only on demand.
	WarmupDisable WarmupPolicy = "disable"
	// WarmupSync loads all cells before the segment is usable.
	WarmupSync WarmupPolicy = "sync"
	// WarmupAsync loads all cells in the background after open.
	WarmupAsync WarmupPolicy = "async"
)

func parseWarmupPolicy(s string) (WarmupPolicy, bool) {
	switch WarmupPolicy(s) {
	case WarmupDisable, WarmupSync, WarmupAsync:
		return WarmupPolicy(s), true
	}
	return "", false
}

// ResolveWarmupPolicy resolves the effective warmup policy: an
// explicit user setting wins, otherwise the configured default for the
// column group's classification applies. Indexed column groups default
// to disable since their index supersedes raw data warmup.
func ResolveWarmupPolicy(userPolicy string, isVector, isIndexed bool, cfg *config.LoadConfig) WarmupPolicy {
	if p, ok := parseWarmupPolicy(userPolicy); ok {
		return p
	}

	if isIndexed {
		return WarmupDisable
	}

	var fallback string
	if isVector {
		fallback = cfg.WarmupPolicyVector
	} else {
		fallback = cfg.WarmupPolicyScalar
	}
	if p, ok := parseWarmupPolicy(fallback); ok {
		return p
	}
	return WarmupDisable
}
