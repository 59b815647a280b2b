package remote

import (
	"fmt"
	"net/http"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// Credentials holds the auth material for one remote system. After a 401 the
// holder is invalidated and every later request fails fast without touching
// the network until Reset is called with fresh material.
type Credentials struct {
	system string

	mu       sync.RWMutex
	username string
	password string
	invalid  bool
	reason   string
}

// NewBasicAuth returns credentials applied as HTTP Basic auth.
func NewBasicAuth(system, username, password string) *Credentials {
	return &Credentials{system: system, username: username, password: password}
}

// Apply sets the Authorization header on req, or returns an auth error when
// the credentials have been invalidated.
func (c *Credentials) Apply(req *http.Request) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.invalid {
		return gatewayError(
			fmt.Sprintf("%s: credentials were rejected earlier (%s); re-authenticate and retry", c.system, c.reason),
			goerrors.CategoryAuth,
			http.StatusUnauthorized,
			CodeCredentialsInvalidated,
			map[string]any{"system": c.system},
		)
	}
	req.SetBasicAuth(c.username, c.password)
	return nil
}

// Invalidate drops the held secret so it cannot be reused.
func (c *Credentials) Invalidate(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalid = true
	c.reason = reason
	c.username = ""
	c.password = ""
}

// Reset installs fresh credentials and clears the invalidated state.
func (c *Credentials) Reset(username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
	c.password = password
	c.invalid = false
	c.reason = ""
}

// Valid reports whether the credentials may still be used.
func (c *Credentials) Valid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.invalid
}
