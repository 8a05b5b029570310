// Package balancer selects the best runtime server for a new session.
// It is a pure function over a registry snapshot — it never mutates state
// and never talks to the registry directly, mirroring the teacher's
// rotator.pickNext which also operates purely over a pool.Alive() slice.
package balancer

import (
	"sort"

	"github.com/drsoft-oss/runtimefleet/internal/registry"
)

// Select returns the online server with the lowest load ratio
// (current_sessions / max_sessions). Servers that are not online, or whose
// MaxSessions is zero (which would divide by zero), are ineligible. Ties
// break on ServerID lexicographic order for determinism across runs — the
// source this was distilled from relies on an unstable sort and leaves ties
// undefined, so this ordering is an explicit hardening rather than an
// accident of implementation.
//
// Returns false if no server is eligible.
func Select(servers []registry.RuntimeServer) (registry.RuntimeServer, bool) {
	var eligible []registry.RuntimeServer
	for _, s := range servers {
		if s.Status != registry.StatusOnline {
			continue
		}
		if s.Capacity.MaxSessions <= 0 {
			continue
		}
		eligible = append(eligible, s)
	}
	if len(eligible) == 0 {
		return registry.RuntimeServer{}, false
	}

	sort.Slice(eligible, func(i, j int) bool {
		ri := loadRatio(eligible[i])
		rj := loadRatio(eligible[j])
		if ri != rj {
			return ri < rj
		}
		return eligible[i].ServerID < eligible[j].ServerID
	})
	return eligible[0], true
}

func loadRatio(s registry.RuntimeServer) float64 {
	return float64(s.Capacity.CurrentSessions) / float64(s.Capacity.MaxSessions)
}
