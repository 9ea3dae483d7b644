// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package cs104

import "net"

// RedundancyGroup names a {MessageQueue, HighPrioQueue} pair plus an
// optional IP allow-list. A group with no allow-list is the catch-all: it
// matches any peer that no named group claims.
type RedundancyGroup struct {
	Name    string
	LowQ    *MessageQueue
	HighQ   *HighPrioQueue
	Allowed []net.IP // nil or empty means catch-all
}

// NewRedundancyGroup builds a group with freshly allocated queues of the
// given capacities.
func NewRedundancyGroup(name string, lowCap, highCap int, allowed []net.IP) *RedundancyGroup {
	return &RedundancyGroup{
		Name:    name,
		LowQ:    NewMessageQueue(lowCap),
		HighQ:   NewHighPrioQueue(highCap),
		Allowed: allowed,
	}
}

// Matches reports whether ip is explicitly allowed by this group.
// A catch-all group (empty Allowed) never matches here; resolveGroup
// selects it only after no named group matches.
func (g *RedundancyGroup) Matches(ip net.IP) bool {
	for _, a := range g.Allowed {
		if a.Equal(ip) {
			return true
		}
	}
	return false
}

// isCatchAll reports whether g has no IP allow-list.
func (g *RedundancyGroup) isCatchAll() bool {
	return len(g.Allowed) == 0
}

// resolveGroup selects the redundancy group for peer, preferring the first
// named (non-catch-all) match and falling back to a catch-all group if
// present. Returns ok=false if nothing matches.
func resolveGroup(groups []*RedundancyGroup, peer net.IP) (*RedundancyGroup, bool) {
	var catchAll *RedundancyGroup
	for _, g := range groups {
		if g.isCatchAll() {
			if catchAll == nil {
				catchAll = g
			}
			continue
		}
		if g.Matches(peer) {
			return g, true
		}
	}
	if catchAll != nil {
		return catchAll, true
	}
	return nil, false
}
