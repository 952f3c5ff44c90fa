package connection

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/peternagy/espal/internal/esclient"
	"github.com/peternagy/espal/internal/types"
)

type pooledEntry struct {
	client   *esclient.Client
	lastUsed time.Time
}

// pool is the keyed client cache. At most one entry exists per connection id.
type pool struct {
	opts Options

	mu       sync.Mutex
	clients  map[int64]*pooledEntry
	breakers map[int64]*gobreaker.CircuitBreaker
	// gens advance on every eviction of an id; epoch on every clear. A dial
	// started under an older generation is not cached.
	gens  map[int64]uint64
	epoch uint64
}

// generation identifies the pool state a dial was started under.
type generation struct {
	epoch uint64
	gen   uint64
}

func newPool(opts Options) *pool {
	return &pool{
		opts:     opts,
		clients:  map[int64]*pooledEntry{},
		breakers: map[int64]*gobreaker.CircuitBreaker{},
		gens:     map[int64]uint64{},
	}
}

func (p *pool) generation(id int64) generation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return generation{epoch: p.epoch, gen: p.gens[id]}
}

func poolKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (p *pool) get(id int64, now time.Time) *esclient.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.clients[id]
	if !ok {
		return nil
	}
	e.lastUsed = now
	return e.client
}

// put caches c unless id was evicted since g was taken. A discarded client
// is closed and put reports false.
func (p *pool) put(id int64, c *esclient.Client, now time.Time, g generation) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g != (generation{epoch: p.epoch, gen: p.gens[id]}) {
		c.Close()
		return false
	}
	if old, ok := p.clients[id]; ok && old.client != c {
		old.client.Close()
	}
	p.clients[id] = &pooledEntry{client: c, lastUsed: now}
	return true
}

func (p *pool) evict(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.breakers, id)
	p.gens[id]++
	e, ok := p.clients[id]
	if !ok {
		return false
	}
	e.client.Close()
	delete(p.clients, id)
	return true
}

func (p *pool) sweep(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, e := range p.clients {
		if e.lastUsed.Before(cutoff) {
			e.client.Close()
			delete(p.clients, id)
			n++
		}
	}
	return n
}

func (p *pool) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, e := range p.clients {
		e.client.Close()
		delete(p.clients, id)
	}
	p.breakers = map[int64]*gobreaker.CircuitBreaker{}
	p.epoch++
}

func (p *pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *pool) entries() []types.PooledClientInfo {
	p.mu.Lock()
	out := make([]types.PooledClientInfo, 0, len(p.clients))
	for id, e := range p.clients {
		out = append(out, types.PooledClientInfo{
			ConnectionID: id,
			URL:          e.client.URL(),
			LastUsedAt:   e.lastUsed,
		})
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// guard runs dial through the connection's circuit breaker so a cluster
// that keeps failing its ping is not re-dialled on every request.
func (p *pool) guard(id int64, dial func() (*esclient.Client, error)) (*esclient.Client, error) {
	if p.opts.BreakerFailures == 0 {
		return dial()
	}

	cb := p.breaker(id)
	v, err := cb.Execute(func() (interface{}, error) {
		return dial()
	})
	if err != nil {
		return nil, err
	}
	return v.(*esclient.Client), nil
}

func (p *pool) breaker(id int64) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[id]; ok {
		return cb
	}
	failures := p.opts.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("pool-%d", id),
		MaxRequests: 1,
		Timeout:     p.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})
	p.breakers[id] = cb
	return cb
}
