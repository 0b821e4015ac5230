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

// Package lifecycle is the VM lifecycle state machine (§4.6): a pure
// transition table plus the side-effect kind each legal transition
// requires. The table is the only place that knows which transitions
// are legal. The Reconciler's transition helper checks every change it
// commits against it; the State Store's conditional write does not
// consult it, and the scale-down and node-deletion paths write their
// pending/active -> deleting_vm changes straight to the store.
package lifecycle

import (
	"fmt"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

// SideEffect names the external action a transition requires before
// it may be committed. The Reconciler executes the effect, and only
// commits the state transition once the effect succeeds.
type SideEffect string

const (
	// EffectNone requires no external action.
	EffectNone SideEffect = ""
	// EffectDestroyVM requires the Proxmox Adapter to destroy the VM.
	EffectDestroyVM SideEffect = "destroy_vm"
	// EffectDestroyISO requires the Proxmox Adapter to destroy the seed ISO.
	EffectDestroyISO SideEffect = "destroy_iso"
	// EffectDeleteNode requires the Kube Adapter's backing cluster to have the node object removed, if present.
	EffectDeleteNode SideEffect = "delete_node"
)

// transitions maps a `from` state to the side effect required for
// each legal `to` state it may reach, per spec.md §4.6.
var transitions = map[types.VMState]map[types.VMState]SideEffect{
	types.StatePending: {
		types.StateActive:     EffectNone,
		types.StateFailed:     EffectNone,
		types.StateDeletingVM: EffectNone,
	},
	types.StateActive: {
		types.StateDeletingVM: EffectNone,
		types.StateFailed:     EffectNone,
	},
	types.StateFailed: {
		types.StateDeletingVM: EffectNone,
	},
	types.StateDeletingVM: {
		types.StateDeletingISO: EffectDestroyVM,
	},
	types.StateDeletingISO: {
		types.StateDeletingNode: EffectDestroyISO,
	},
	types.StateDeletingNode: {
		// Row removal is the terminal side effect; modeled as
		// deletion rather than a transition to a seventh state.
		"": EffectDeleteNode,
	},
}

// EffectFor returns the side effect the Reconciler must perform
// *before* committing the transition from -> to, or an error if the
// transition is not legal.
func EffectFor(from, to types.VMState) (SideEffect, error) {
	legal, ok := transitions[from]
	if !ok {
		return "", fmt.Errorf("vm in state %s has no legal transitions: %w", from, types.ErrIllegalTransition)
	}

	effect, ok := legal[to]
	if !ok {
		return "", fmt.Errorf("%s -> %s is not a legal transition: %w", from, to, types.ErrIllegalTransition)
	}

	return effect, nil
}

// EffectForDeletion returns the side effect required to remove the row
// entirely from the terminal state (types.StateDeletingNode).
func EffectForDeletion(from types.VMState) (SideEffect, error) {
	return EffectFor(from, "")
}

// CanTransition reports whether from -> to is legal without returning
// the side effect, useful for the Reconciler's classification passes.
func CanTransition(from, to types.VMState) bool {
	_, err := EffectFor(from, to)

	return err == nil
}
