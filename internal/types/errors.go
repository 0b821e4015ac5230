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

package types

import "github.com/pkg/errors"

// Error kinds shared across the whole provider. Components wrap one
// of these with fmt.Errorf("...: %w", ErrX) so callers can recover the
// kind with errors.Is, while still keeping a human-readable message.
var (
	// ErrConfig marks an invalid or missing configuration value. Fatal at startup.
	ErrConfig = errors.New("config error")

	// ErrTransientProxmox is a retryable Proxmox API failure (network, 5xx, lock contention).
	ErrTransientProxmox = errors.New("transient proxmox error")
	// ErrPermanentProxmox is a non-retryable Proxmox API failure (bad request, unknown vmid).
	ErrPermanentProxmox = errors.New("permanent proxmox error")

	// ErrTransientKube is a retryable Kubernetes API failure.
	ErrTransientKube = errors.New("transient kube error")

	// ErrConcurrentUpdate is returned by the store when a group_desired CAS loses a race.
	ErrConcurrentUpdate = errors.New("concurrent update")
	// ErrStaleState is returned by the store when a VM-row CAS observes an unexpected current state.
	ErrStaleState = errors.New("stale state")

	// ErrIllegalTransition is returned when a caller attempts a transition not in the state machine.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrOutOfRange is returned to the autoscaler for a size request outside [min_size, max_size]
	// or a decrease that would terminate live nodes.
	ErrOutOfRange = errors.New("out of range")

	// ErrNotFound is returned when a group or node is unknown to the provider.
	ErrNotFound = errors.New("not found")
)
