package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/domain"
)

// Registry maps platform accounts to their lanes. Lanes are created on first
// use and live until closed explicitly.
type Registry struct {
	mu       sync.Mutex
	lanes    map[domain.LaneKey]*Coordinator
	drivers  map[string]domain.PlatformDriver
	accounts map[domain.LaneKey]domain.Account
	governor Governor
	clock    clockwork.Clock
	cfg      Config
}

func NewRegistry(drivers []domain.PlatformDriver, accounts []domain.Account, governor Governor, clock clockwork.Clock, cfg Config) *Registry {
	r := &Registry{
		lanes:    make(map[domain.LaneKey]*Coordinator),
		drivers:  make(map[string]domain.PlatformDriver, len(drivers)),
		accounts: make(map[domain.LaneKey]domain.Account, len(accounts)),
		governor: governor,
		clock:    clock,
		cfg:      cfg,
	}
	for _, d := range drivers {
		r.drivers[d.Platform()] = d
	}
	for _, a := range accounts {
		r.accounts[domain.LaneKey{Platform: a.Platform, Account: a.Username}] = a
	}
	return r
}

// Get returns the lane for key, starting it if needed.
func (r *Registry) Get(key domain.LaneKey) (*Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.lanes[key]; ok {
		return c, nil
	}

	driver, ok := r.drivers[key.Platform]
	if !ok {
		return nil, fmt.Errorf("no driver for lane %s: %w", key, domain.ErrUnknownPlatform)
	}
	account, ok := r.accounts[key]
	if !ok {
		return nil, fmt.Errorf("no account configured for lane %s", key)
	}

	c := NewCoordinator(account, driver, r.governor, r.clock, r.cfg)
	r.lanes[key] = c
	slog.Info("Lane started", "lane", key.String())
	return c, nil
}

// Keys lists the configured accounts, sorted.
func (r *Registry) Keys() []domain.LaneKey {
	keys := make([]domain.LaneKey, 0, len(r.accounts))
	for k := range r.accounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Close stops one lane. A later Get starts a fresh one.
func (r *Registry) Close(key domain.LaneKey) {
	r.mu.Lock()
	c, ok := r.lanes[key]
	delete(r.lanes, key)
	r.mu.Unlock()

	if ok {
		c.Close()
		slog.Info("Lane stopped", "lane", key.String())
	}
}

// CloseAll stops every lane concurrently and waits for them.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	lanes := r.lanes
	r.lanes = make(map[domain.LaneKey]*Coordinator)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range lanes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()
}
