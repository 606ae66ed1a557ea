// Package auth decides whether a sender may start privileged flows.
package auth

import "strings"

// Gate is an immutable allow-list of privileged usernames.
type Gate struct {
	admins map[string]struct{}
}

// NewGate builds a gate from usernames with or without a leading "@".
// Matching is case-insensitive.
func NewGate(admins []string) *Gate {
	g := &Gate{admins: make(map[string]struct{}, len(admins))}
	for _, a := range admins {
		if n := normalize(a); n != "" {
			g.admins[n] = struct{}{}
		}
	}
	return g
}

// IsPrivileged reports whether username is on the allow-list.
// Senders without a username are never privileged.
func (g *Gate) IsPrivileged(username string) bool {
	if g == nil {
		return false
	}
	n := normalize(username)
	if n == "" {
		return false
	}
	_, ok := g.admins[n]
	return ok
}

// Len returns the number of configured admins.
func (g *Gate) Len() int {
	if g == nil {
		return 0
	}
	return len(g.admins)
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return strings.ToLower(strings.TrimSpace(s))
}
