// Package featureflags gates optional features such as live group locations.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// Flag names a gated feature.
type Flag string

// LiveLocations gates sharing of runner positions while a run is under way.
const LiveLocations Flag = "live_locations"

// Manager holds the rollout percentage of every configured flag.
// A flag is configured as on/off/true/false/1/0 or as "N%" for a
// deterministic per-user rollout: "live_locations=on,beta_ranking=25%".
type Manager struct {
	rollouts map[Flag]int
}

// Parse builds a Manager from a comma-separated list of name=value pairs.
// Empty entries are skipped; anything else that does not parse is an error.
func Parse(raw string) (*Manager, error) {
	m := &Manager{rollouts: make(map[Flag]int)}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, value, ok := strings.Cut(entry, "=")
		name, value = normalize(name), normalize(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("feature flag %q: want name=value", entry)
		}
		pct, err := parseRollout(value)
		if err != nil {
			return nil, fmt.Errorf("feature flag %q: %w", name, err)
		}
		m.rollouts[Flag(name)] = pct
	}
	return m, nil
}

func parseRollout(value string) (int, error) {
	switch value {
	case "on", "true", "1":
		return 100, nil
	case "off", "false", "0":
		return 0, nil
	}
	digits, ok := strings.CutSuffix(value, "%")
	if !ok {
		return 0, fmt.Errorf("unknown value %q", value)
	}
	pct, err := strconv.Atoi(digits)
	if err != nil || pct < 0 || pct > 100 {
		return 0, fmt.Errorf("rollout %q must be 0%%-100%%", value)
	}
	return pct, nil
}

// Enabled reports whether flag is on for userID. Partial rollouts never
// include anonymous callers (userID 0). Unknown flags are off.
func (m *Manager) Enabled(flag Flag, userID uint) bool {
	if m == nil {
		return false
	}
	pct := m.rollouts[Flag(normalize(string(flag)))]
	switch {
	case pct >= 100:
		return true
	case pct <= 0, userID == 0:
		return false
	}
	return bucket(flag, userID) < pct
}

// Flags lists the configured flag names in order.
func (m *Manager) Flags() []Flag {
	if m == nil {
		return nil
	}
	out := make([]Flag, 0, len(m.rollouts))
	for f := range m.rollouts {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rollouts returns the configured percentage per flag.
func (m *Manager) Rollouts() map[Flag]int {
	out := make(map[Flag]int, len(m.Flags()))
	for _, f := range m.Flags() {
		out[f] = m.rollouts[f]
	}
	return out
}

// Snapshot evaluates every configured flag for userID.
func (m *Manager) Snapshot(userID uint) map[Flag]bool {
	out := make(map[Flag]bool, len(m.Flags()))
	for _, f := range m.Flags() {
		out[f] = m.Enabled(f, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(flag Flag, userID uint) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s:%d", normalize(string(flag)), userID)
	return int(h.Sum32() % 100)
}
