package testutil

import (
	"errors"
	"sync"

	"github.com/roach88/progsync/internal/localstore"
)

// ErrStoreFault is returned by FaultyStore writes while faults are on.
var ErrStoreFault = errors.New("injected local storage fault")

// FaultyStore wraps a localstore.Store and can fail every write.
type FaultyStore struct {
	localstore.Store

	mu     sync.Mutex
	faulty bool
}

// NewFaultyStore wraps s with faults off.
func NewFaultyStore(s localstore.Store) *FaultyStore {
	return &FaultyStore{Store: s}
}

// SetFaulty turns write faults on or off.
func (f *FaultyStore) SetFaulty(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faulty = on
}

func (f *FaultyStore) isFaulty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faulty
}

// Set fails with ErrStoreFault while faults are on.
func (f *FaultyStore) Set(key, value string) error {
	if f.isFaulty() {
		return ErrStoreFault
	}
	return f.Store.Set(key, value)
}

// Remove fails with ErrStoreFault while faults are on.
func (f *FaultyStore) Remove(key string) error {
	if f.isFaulty() {
		return ErrStoreFault
	}
	return f.Store.Remove(key)
}
