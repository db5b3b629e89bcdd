package fleet

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/hopper/internal/device"
)

// LinkPool is a bounded registry of held links keyed by panel address.
//
// The pool never holds more than its capacity. When full, acquisitions for
// unknown addresses are refused and the caller uses a fresh session instead;
// existing links are never evicted to make room. mu guards only the map and
// is never held across radio I/O.
type LinkPool struct {
	policy  RetryPolicy
	factory device.SessionFactory
	logger  *logrus.Logger

	mu    sync.Mutex
	links map[string]*HeldLink
}

// LinkStatus is a snapshot of one held link.
type LinkStatus struct {
	Address   string `json:"address"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// NewLinkPool creates an empty pool. Capacity, connect timeout and abandon
// grace are taken from policy.
func NewLinkPool(policy RetryPolicy, factory device.SessionFactory, logger *logrus.Logger) *LinkPool {
	if logger == nil {
		logger = logrus.New()
	}
	return &LinkPool{
		policy:  policy,
		factory: factory,
		logger:  logger,
		links:   make(map[string]*HeldLink),
	}
}

// Capacity returns the maximum number of held links.
func (p *LinkPool) Capacity() int {
	return p.policy.PoolCapacity
}

// Len returns the number of occupied slots.
func (p *LinkPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.links)
}

// Acquire returns a connected held link for address, connecting or
// reconnecting it if needed. It reports false when the pool is full and has
// no slot for address, or when connecting failed. A failed reconnect keeps
// the slot so a later call retries; a failed first connect leaves nothing
// behind.
func (p *LinkPool) Acquire(ctx context.Context, address, name string) (*HeldLink, bool) {
	address = device.NormalizeAddress(address)
	if name == "" {
		name = address
	}
	log := p.logger.WithFields(logrus.Fields{"address": address, "name": name})

	p.mu.Lock()
	link, exists := p.links[address]
	if !exists {
		if len(p.links) >= p.policy.PoolCapacity {
			size := len(p.links)
			p.mu.Unlock()
			log.WithFields(logrus.Fields{
				"pool_size": size,
				"capacity":  p.policy.PoolCapacity,
			}).Debug("Link pool full, not admitting")
			return nil, false
		}

		// Publish the slot with its guard already held so nobody else drives
		// it before the first connect finishes.
		link = newHeldLink(address, name, p.factory, p.logger)
		link.mu.Lock()
		p.links[address] = link
		p.mu.Unlock()

		err := link.connectLocked(ctx, p.policy)
		if err != nil {
			link.retired = true
			link.mu.Unlock()
			p.remove(link)
			return nil, false
		}
		link.mu.Unlock()
		return link, true
	}
	p.mu.Unlock()

	link.mu.Lock()
	defer link.mu.Unlock()

	if link.retired {
		return nil, false
	}
	if link.connected.Load() {
		return link, true
	}

	log.Info("Reconnecting held link")
	if err := link.connectLocked(ctx, p.policy); err != nil {
		return nil, false
	}
	return link, true
}

// remove drops link from the map if it still occupies its slot.
func (p *LinkPool) remove(link *HeldLink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.links[link.address] == link {
		delete(p.links, link.address)
	}
}

// Links returns a snapshot of held links sorted by address.
func (p *LinkPool) Links() []LinkStatus {
	p.mu.Lock()
	links := make([]*HeldLink, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	p.mu.Unlock()

	result := make([]LinkStatus, 0, len(links))
	for _, l := range links {
		result = append(result, LinkStatus{Address: l.address, Name: l.name, Connected: l.Connected()})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Address < result[j].Address
	})
	return result
}

// DrainAll disconnects every held link and empties the pool. Each link is
// closed after any in-flight operation on it releases its guard. Disconnect
// failures are ignored. Calling it on an empty pool is a no-op.
func (p *LinkPool) DrainAll() {
	p.mu.Lock()
	links := p.links
	p.links = make(map[string]*HeldLink)
	p.mu.Unlock()

	if len(links) == 0 {
		return
	}

	p.logger.WithField("pool_size", len(links)).Info("Draining held links")
	for _, l := range links {
		l.close()
	}
}
