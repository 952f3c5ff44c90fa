// Package connection manages the active cluster session and the pool of
// secondary clients used for cross-cluster work.
package connection

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/peternagy/espal/internal/core"
	"github.com/peternagy/espal/internal/credential"
	"github.com/peternagy/espal/internal/debug"
	"github.com/peternagy/espal/internal/esclient"
	"github.com/peternagy/espal/internal/guard"
	"github.com/peternagy/espal/internal/storage"
	"github.com/peternagy/espal/internal/types"
)

// CredentialSource resolves a saved profile into plaintext credentials.
type CredentialSource interface {
	Credentials(ctx context.Context, id int64) (types.Credentials, error)
}

var errEvictedWhileDialing = errors.New("connection evicted while dialing")

// Options configure the manager.
type Options struct {
	Client esclient.Options
	// IdleTTL evicts pooled clients unused for longer. Zero keeps them forever.
	IdleTTL time.Duration
	// BreakerFailures is the number of consecutive failed pings after which
	// pool resolution for that connection fails fast. Zero disables it.
	BreakerFailures uint32
	// BreakerCooldown is how long a tripped connection fails fast.
	BreakerCooldown time.Duration
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Client:          esclient.DefaultOptions(),
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// Manager owns the active session client and the client pool.
type Manager struct {
	creds CredentialSource
	opts  Options
	now   func() time.Time

	mu      sync.RWMutex
	active  *esclient.Client
	session types.ActiveSession

	pool  *pool
	group singleflight.Group
}

// NewManager creates a manager in the disconnected state.
func NewManager(creds CredentialSource, opts Options) *Manager {
	m := &Manager{
		creds: creds,
		opts:  opts,
		now:   time.Now,
	}
	m.pool = newPool(opts)
	return m
}

// Connect establishes the active session from a saved profile (req.ID) or
// ad-hoc credentials. The new client replaces the previous one only after
// it answers a ping; any failure leaves the session disconnected.
func (m *Manager) Connect(ctx context.Context, req types.ConnectRequest) (types.ActiveSession, error) {
	creds, err := m.resolve(ctx, req)
	if err != nil {
		m.reset()
		return m.Status(), err
	}

	client, err := m.dial(ctx, creds)
	if err != nil {
		m.reset()
		debug.LogConnection("Connect failed", map[string]interface{}{
			"url":   credential.RedactURL(creds.URL),
			"error": err.Error(),
		})
		return m.Status(), core.ConnectionFailed(core.ErrConnectionFailed, err)
	}

	m.mu.Lock()
	previous := m.active
	m.active = client
	m.session = types.ActiveSession{
		ID:        creds.ID,
		URL:       creds.URL,
		Connected: true,
		Name:      creds.Name,
		Color:     creds.Color,
	}
	session := m.session
	m.mu.Unlock()

	if previous != nil && previous != client {
		previous.Close()
	}

	debug.LogConnection("Connected", map[string]interface{}{
		"url":   credential.RedactURL(creds.URL),
		"saved": creds.ID != nil,
	})
	return session, nil
}

// Disconnect clears the active session. It always succeeds.
func (m *Manager) Disconnect() types.ActiveSession {
	m.reset()
	debug.LogConnection("Disconnected", nil)
	return m.Status()
}

func (m *Manager) reset() {
	m.mu.Lock()
	previous := m.active
	m.active = nil
	m.session = types.ActiveSession{}
	m.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
}

// Status returns a snapshot of the active session.
func (m *Manager) Status() types.ActiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Connected reports whether a session is active.
func (m *Manager) Connected() bool {
	return m.Status().Connected
}

// Active returns the session client, or a NO_ES_CONNECTION error.
func (m *Manager) Active() (*esclient.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return nil, core.NoConnection()
	}
	return m.active, nil
}

// Test pings a saved profile or ad-hoc credentials without touching the
// session or the pool.
func (m *Manager) Test(ctx context.Context, req types.ConnectRequest) error {
	creds, err := m.resolve(ctx, req)
	if err != nil {
		return err
	}
	client, err := m.dial(ctx, creds)
	if err != nil {
		return core.ConnectionFailed(core.ErrConnectionFailed, err)
	}
	client.Close()
	return nil
}

// Pooled returns a ping-verified client for a saved connection, reusing a
// cached one when present. ok is false when no client could be established;
// callers treat that as "could not connect", not as an error to propagate.
func (m *Manager) Pooled(ctx context.Context, id int64) (client *esclient.Client, ok bool) {
	if c := m.pool.get(id, m.now()); c != nil {
		return c, true
	}

	v, err, _ := m.group.Do(poolKey(id), func() (interface{}, error) {
		if c := m.pool.get(id, m.now()); c != nil {
			return c, nil
		}

		gen := m.pool.generation(id)

		// The dial outlives a cancelled caller: other waiters share its result.
		dialCtx := context.WithoutCancel(ctx)
		creds, err := m.creds.Credentials(dialCtx, id)
		if err != nil {
			return nil, err
		}

		c, err := m.pool.guard(id, func() (*esclient.Client, error) {
			return m.dial(dialCtx, creds)
		})
		if err != nil {
			return nil, err
		}
		if !m.pool.put(id, c, m.now(), gen) {
			return nil, errEvictedWhileDialing
		}
		return c, nil
	})
	if err != nil {
		debug.LogConnection("Pooled client unavailable", map[string]interface{}{
			"connectionId": id,
			"error":        err.Error(),
		})
		return nil, false
	}

	debug.LogConnection("Pooled client ready", map[string]interface{}{"connectionId": id})
	return v.(*esclient.Client), true
}

// Evict drops a pooled client. Reports whether one was cached. A dial in
// flight for id is not cached when it completes.
func (m *Manager) Evict(id int64) bool {
	m.group.Forget(poolKey(id))
	return m.pool.evict(id)
}

// PoolEntries lists pooled clients ordered by connection id.
func (m *Manager) PoolEntries() []types.PooledClientInfo {
	return m.pool.entries()
}

// PoolSize returns the number of pooled clients.
func (m *Manager) PoolSize() int {
	return m.pool.size()
}

// Sweep evicts pooled clients idle longer than the configured TTL.
func (m *Manager) Sweep() int {
	if m.opts.IdleTTL <= 0 {
		return 0
	}
	n := m.pool.sweep(m.now().Add(-m.opts.IdleTTL))
	if n > 0 {
		debug.LogConnection("Evicted idle pooled clients", map[string]interface{}{"count": n})
	}
	return n
}

// StartSweeper runs Sweep periodically until ctx is done. It does nothing
// when no idle TTL is configured.
func (m *Manager) StartSweeper(ctx context.Context) {
	if m.opts.IdleTTL <= 0 {
		return
	}
	interval := m.opts.IdleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Close disconnects the session and drops every pooled client.
func (m *Manager) Close() {
	m.reset()
	m.pool.clear()
}

// resolve turns a connect request into credentials.
func (m *Manager) resolve(ctx context.Context, req types.ConnectRequest) (types.Credentials, error) {
	if req.ID != nil {
		creds, err := m.creds.Credentials(ctx, *req.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return types.Credentials{}, core.NotFound(core.ErrSavedConnectionNotFound, http.StatusNotFound, "")
		}
		if err != nil {
			return types.Credentials{}, core.Internal(err)
		}
		return creds, nil
	}

	if err := guard.ValidateClusterURL(req.URL); err != nil {
		return types.Credentials{}, err
	}
	cleanURL, user, pass := credential.ExtractCredentialsFromURL(req.URL)
	if req.Username != "" {
		user = req.Username
	}
	if req.Password != "" {
		pass = req.Password
	}
	name := req.Name
	if name == "" {
		if u, err := url.Parse(cleanURL); err == nil {
			name = u.Host
		}
	}
	return types.Credentials{
		Name:     name,
		Color:    req.Color,
		URL:      cleanURL,
		Username: user,
		Password: pass,
	}, nil
}

// dial builds a client and pings it.
func (m *Manager) dial(ctx context.Context, creds types.Credentials) (*esclient.Client, error) {
	client, err := esclient.New(creds, m.opts.Client)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := core.ContextWithPingTimeout(ctx)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
