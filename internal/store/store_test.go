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

package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/store"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "state.db")

	s, err := store.Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestGetDesiredDefaultsOnFirstObservation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := openTestStore(t)

	desired, err := s.GetDesired(ctx, "web", 2)
	assert.NoError(err)
	assert.Equal(2, desired)

	// Second read must not re-apply the default.
	desired, err = s.GetDesired(ctx, "web", 99)
	assert.NoError(err)
	assert.Equal(2, desired)
}

func TestCASDesiredRejectsStaleExpectation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetDesired(ctx, "web", 1)
	assert.NoError(err)

	assert.NoError(s.CASDesired(ctx, "web", 1, 2))

	err = s.CASDesired(ctx, "web", 1, 3)
	assert.ErrorIs(err, types.ErrConcurrentUpdate)

	desired, err := s.GetDesired(ctx, "web", 0)
	assert.NoError(err)
	assert.Equal(2, desired)
}

func TestVMLifecycleCAS(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.InsertPending(ctx, 101, "web", "web-101", now))

	vm, ok, err := s.GetVM(ctx, 101)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(types.StatePending, vm.State)

	assert.NoError(s.CASState(ctx, 101, types.StatePending, types.StateActive, "", now))

	// Stale expectation fails.
	err = s.CASState(ctx, 101, types.StatePending, types.StateFailed, "", now)
	assert.ErrorIs(err, types.ErrStaleState)

	assert.NoError(s.CASState(ctx, 101, types.StateActive, types.StateDeletingVM, "", now))
	assert.NoError(s.CASState(ctx, 101, types.StateDeletingVM, types.StateDeletingISO, "", now))
	assert.NoError(s.CASState(ctx, 101, types.StateDeletingISO, types.StateDeletingNode, "", now))
	assert.NoError(s.DeleteVM(ctx, 101, types.StateDeletingNode))

	_, ok, err = s.GetVM(ctx, 101)
	assert.NoError(err)
	assert.False(ok)
}

func TestListVMsScopedToGroup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.InsertPending(ctx, 1, "web", "web-1", now))
	require.NoError(t, s.InsertPending(ctx, 2, "db", "db-2", now))

	webVMs, err := s.ListVMs(ctx, "web")
	assert.NoError(err)
	assert.Len(webVMs, 1)
	assert.Equal(1, webVMs[0].VMID)

	all, err := s.ListAllVMs(ctx)
	assert.NoError(err)
	assert.Len(all, 2)
}

func TestReopenIsCrashSafe(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")

	s1, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.InsertPending(ctx, 7, "web", "web-7", time.Now()))
	require.NoError(t, s1.Close())

	s2, err := store.Open(path)
	require.NoError(t, err)
	defer s2.Close()

	vm, ok, err := s2.GetVM(ctx, 7)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal("web-7", vm.Hostname)
}
