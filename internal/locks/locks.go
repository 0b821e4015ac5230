/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package locks provides a set of independent, lazily-created mutexes
// keyed by an arbitrary string. It is the only in-process shared
// mutable state the provider keeps outside the State Store: one
// instance serializes per-group desired-size mutations (the Scaling
// Controller), a second serializes per-vmid lifecycle work (the
// Reconciler).
package locks

import "sync"

// Keyed is a set of mutexes, one per distinct key.
type Keyed struct {
	locks sync.Map
}

// New creates an empty set of keyed locks.
func New() *Keyed {
	return &Keyed{}
}

// Lock blocks until the mutex for key is held.
func (k *Keyed) Lock(key string) {
	actual, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	actual.(*sync.Mutex).Lock()
}

// Unlock releases the mutex for key.
func (k *Keyed) Unlock(key string) {
	if actual, ok := k.locks.Load(key); ok {
		actual.(*sync.Mutex).Unlock()
	}
}

// WithLock runs fn with the mutex for key held.
func (k *Keyed) WithLock(key string, fn func()) {
	k.Lock(key)
	defer k.Unlock(key)

	fn()
}
