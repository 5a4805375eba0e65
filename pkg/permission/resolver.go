// Package permission implements the Permission Resolver from spec.md §4.2:
// a static mapping of tool identifiers to allow/ask/deny, with unresolved
// tools defaulting to ask (the safe default that forces HIL).
package permission

import (
	"path"
	"strings"

	"github.com/kadirpekel/dagrunner/config"
)

// Decision is the outcome of resolving a tool id.
type Decision string

const (
	Allow   Decision = "allow"
	Ask     Decision = "ask"
	Deny    Decision = "deny"
	Unknown Decision = "unknown"
)

// Resolver maps tool identifiers to a Decision.
type Resolver struct {
	patterns []patternEntry
}

type patternEntry struct {
	pattern  string
	decision Decision
}

// New builds a Resolver from a permission configuration document.
func New(cfg config.PermissionConfig) *Resolver {
	r := &Resolver{}
	// Declaration order is the tie-break rule (see matchScore): entries are
	// appended allow, then ask, then deny, so between equal-scoring
	// patterns from different lists, allow wins over ask and ask over deny.
	for _, p := range cfg.Allow {
		r.patterns = append(r.patterns, patternEntry{p, Allow})
	}
	for _, p := range cfg.Ask {
		r.patterns = append(r.patterns, patternEntry{p, Ask})
	}
	for _, p := range cfg.Deny {
		r.patterns = append(r.patterns, patternEntry{p, Deny})
	}
	return r
}

// Resolve maps a tool identifier (e.g. "server:name") to a Decision.
// Unresolved tools default to Ask — the safe default that forces HIL
// before the tool runs (spec.md §4.2, and the Open Question resolution
// in spec.md §9 making this independent of hil.approval_required).
func (r *Resolver) Resolve(toolID string) Decision {
	best := Unknown
	bestScore := -1

	for _, entry := range r.patterns {
		score, ok := matchScore(entry.pattern, toolID)
		if !ok {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = entry.decision
		}
	}

	if best == Unknown {
		return Ask
	}
	return best
}

// matchScore reports whether pattern matches toolID, and a specificity
// score used to implement longest-prefix-wins: an exact literal match
// scores highest, a literal prefix (pattern + "*") scores by prefix
// length, and any other glob match (via path.Match) scores by the
// non-wildcard rune count in the pattern. Ties are broken by declaration
// order in Resolve's iteration (first match with the winning score wins,
// since later entries must strictly exceed bestScore to replace it) —
// this resolves the tie-break ambiguity noted as an Open Question in
// spec.md §9.
func matchScore(pattern, toolID string) (int, bool) {
	if pattern == toolID {
		return len(pattern)*2 + 1, true
	}

	if strings.HasSuffix(pattern, "*") && !strings.ContainsAny(pattern[:len(pattern)-1], "*?[") {
		prefix := pattern[:len(pattern)-1]
		if strings.HasPrefix(toolID, prefix) {
			return len(prefix) * 2, true
		}
		return 0, false
	}

	if ok, _ := path.Match(pattern, toolID); ok {
		specificity := len(pattern) - strings.Count(pattern, "*") - strings.Count(pattern, "?")
		return specificity, true
	}

	return 0, false
}
