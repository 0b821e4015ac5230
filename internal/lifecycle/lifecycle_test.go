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

package lifecycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/lifecycle"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

func TestLegalTransitions(t *testing.T) {
	assert := assert.New(t)

	cases := []struct {
		from, to types.VMState
		effect   lifecycle.SideEffect
	}{
		{types.StatePending, types.StateActive, lifecycle.EffectNone},
		{types.StatePending, types.StateFailed, lifecycle.EffectNone},
		{types.StatePending, types.StateDeletingVM, lifecycle.EffectNone},
		{types.StateActive, types.StateDeletingVM, lifecycle.EffectNone},
		{types.StateFailed, types.StateDeletingVM, lifecycle.EffectNone},
		{types.StateDeletingVM, types.StateDeletingISO, lifecycle.EffectDestroyVM},
		{types.StateDeletingISO, types.StateDeletingNode, lifecycle.EffectDestroyISO},
	}

	for _, c := range cases {
		effect, err := lifecycle.EffectFor(c.from, c.to)
		assert.NoError(err, "%s -> %s", c.from, c.to)
		assert.Equal(c.effect, effect, "%s -> %s", c.from, c.to)
	}
}

func TestIllegalTransitions(t *testing.T) {
	assert := assert.New(t)

	cases := [][2]types.VMState{
		{types.StateActive, types.StatePending},
		{types.StateDeletingVM, types.StatePending},
		{types.StateDeletingNode, types.StatePending},
		{types.StateFailed, types.StateActive},
		{types.StateDeletingISO, types.StateDeletingVM},
	}

	for _, c := range cases {
		_, err := lifecycle.EffectFor(c[0], c[1])
		assert.ErrorIs(err, types.ErrIllegalTransition, "%s -> %s", c[0], c[1])
	}
}

func TestNoTransitionReturnsToPending(t *testing.T) {
	assert := assert.New(t)

	all := []types.VMState{
		types.StatePending, types.StateActive, types.StateFailed,
		types.StateDeletingVM, types.StateDeletingISO, types.StateDeletingNode,
	}

	for _, from := range all {
		assert.False(lifecycle.CanTransition(from, types.StatePending), "from %s", from)
	}
}

func TestEffectForDeletion(t *testing.T) {
	assert := assert.New(t)

	effect, err := lifecycle.EffectForDeletion(types.StateDeletingNode)
	assert.NoError(err)
	assert.Equal(lifecycle.EffectDeleteNode, effect)

	_, err = lifecycle.EffectForDeletion(types.StatePending)
	assert.ErrorIs(err, types.ErrIllegalTransition)
}
