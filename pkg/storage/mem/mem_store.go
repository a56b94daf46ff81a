/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package mem provides an in-memory implementation of the storage contract. It is
// the default backing store for the agent's key stores and the identity vault in
// tests and single-process deployments.
package mem

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tbd54566975/web5-agent-go/pkg/storage"
)

// Provider is an in-memory implementation of storage.Provider.
type Provider struct {
	dbs  map[string]*memStore
	lock sync.RWMutex
}

// NewProvider instantiates a new in-memory storage provider.
func NewProvider() *Provider {
	return &Provider{dbs: make(map[string]*memStore)}
}

// OpenStore opens and returns the store for the given namespace, creating it if needed.
func (p *Provider) OpenStore(name string) (storage.Store, error) {
	if name == "" {
		return nil, errors.New("store name is mandatory")
	}

	if store := p.getMemStore(name); store != nil {
		return store, nil
	}

	return p.newMemStore(name), nil
}

func (p *Provider) getMemStore(name string) *memStore {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.dbs[strings.ToLower(name)]
}

func (p *Provider) newMemStore(name string) *memStore {
	p.lock.Lock()
	defer p.lock.Unlock()

	store := &memStore{db: make(map[string][]byte)}
	p.dbs[strings.ToLower(name)] = store

	return store
}

// Close closes all stores created under this provider.
func (p *Provider) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	for _, memStore := range p.dbs {
		memStore.clear()
	}

	p.dbs = make(map[string]*memStore)

	return nil
}

type memStore struct {
	db map[string][]byte
	sync.RWMutex
}

// Put stores value under key.
func (s *memStore) Put(k string, v []byte) error {
	if k == "" || v == nil {
		return errors.New("key and value are mandatory")
	}

	s.Lock()
	s.db[k] = v
	s.Unlock()

	return nil
}

// Get fetches the value stored under key.
func (s *memStore) Get(k string) ([]byte, error) {
	if k == "" {
		return nil, errors.New("key is mandatory")
	}

	s.RLock()
	data, ok := s.db[k]
	s.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrDataNotFound, k)
	}

	return data, nil
}

// Delete removes the value stored under key.
func (s *memStore) Delete(k string) error {
	if k == "" {
		return errors.New("key is mandatory")
	}

	s.Lock()
	delete(s.db, k)
	s.Unlock()

	return nil
}

// Clear removes all values from the store.
func (s *memStore) Clear() error {
	s.clear()

	return nil
}

func (s *memStore) clear() {
	s.Lock()
	s.db = make(map[string][]byte)
	s.Unlock()
}
