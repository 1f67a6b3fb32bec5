// Package access resolves bearer tokens to roles and gates the panel on them.
package access

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/bcrosbie/evalboard/internal/domain"
)

// Gate is the role predicate for the eval panel. View roles may read;
// write roles may also change selections and record results.
type Gate struct {
	view  map[string]struct{}
	write map[string]struct{}
}

func NewGate(viewRoles, writeRoles []string) Gate {
	g := Gate{view: map[string]struct{}{}, write: map[string]struct{}{}}
	for _, role := range writeRoles {
		if role = strings.TrimSpace(role); role != "" {
			g.write[role] = struct{}{}
			g.view[role] = struct{}{}
		}
	}
	for _, role := range viewRoles {
		if role = strings.TrimSpace(role); role != "" {
			g.view[role] = struct{}{}
		}
	}
	return g
}

func (g Gate) CanView(role string) bool {
	_, ok := g.view[role]
	return ok
}

func (g Gate) CanWrite(role string) bool {
	_, ok := g.write[role]
	return ok
}

type credential struct {
	token string
	role  string
}

// Authorizer checks a presented token against the configured ones. With no
// tokens configured every request is let through.
type Authorizer struct {
	creds []credential
	gate  Gate
}

// ParseTokens reads "token=role" pairs separated by commas.
func ParseTokens(raw string) ([]string, []string, error) {
	var tokens, roles []string
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, role, ok := strings.Cut(pair, "=")
		token, role = strings.TrimSpace(token), strings.TrimSpace(role)
		if !ok || token == "" || role == "" {
			return nil, nil, fmt.Errorf("auth token entry %q must look like token=role", pair)
		}
		tokens = append(tokens, token)
		roles = append(roles, role)
	}
	return tokens, roles, nil
}

func NewAuthorizer(rawTokens string, gate Gate) (*Authorizer, error) {
	tokens, roles, err := ParseTokens(rawTokens)
	if err != nil {
		return nil, err
	}
	a := &Authorizer{gate: gate}
	for i := range tokens {
		a.creds = append(a.creds, credential{token: tokens[i], role: roles[i]})
	}
	return a, nil
}

func (a *Authorizer) Enabled() bool {
	return a != nil && len(a.creds) > 0
}

// Authorize returns the caller's role, or an Unauthenticated or
// PermissionDenied AppError.
func (a *Authorizer) Authorize(token string, write bool) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	role, ok := a.role(token)
	if !ok {
		return "", domain.Unauthenticated("invalid authentication token")
	}
	if write && !a.gate.CanWrite(role) {
		return role, domain.PermissionDenied("role " + role + " may not change evaluation settings")
	}
	if !a.gate.CanView(role) {
		return role, domain.PermissionDenied("role " + role + " may not open the eval panel")
	}
	return role, nil
}

func (a *Authorizer) role(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	for _, c := range a.creds {
		if subtle.ConstantTimeCompare([]byte(c.token), []byte(token)) == 1 {
			return c.role, true
		}
	}
	return "", false
}

// BearerToken strips an optional "Bearer " prefix.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	const bearer = "Bearer "
	if len(header) >= len(bearer) && strings.EqualFold(header[:len(bearer)], bearer) {
		return strings.TrimSpace(header[len(bearer):])
	}
	return header
}
