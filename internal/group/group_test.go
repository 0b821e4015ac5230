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

package group_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/group"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/proxmoxadapter"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/store"
)

type fakeProxmox struct {
	proxmoxadapter.Adapter
	vms []proxmoxadapter.VMSummary
}

func (f *fakeProxmox) ListVMsWithTag(_ context.Context, tag string) ([]proxmoxadapter.VMSummary, error) {
	var out []proxmoxadapter.VMSummary

	for _, v := range f.vms {
		for _, t := range v.Tags {
			if t == tag {
				out = append(out, v)
			}
		}
	}

	return out, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestBuildClassifiesTrackedPresentMissingAndOrphan(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.InsertPending(ctx, 101, "web", "web-101", now))
	require.NoError(t, s.InsertPending(ctx, 102, "web", "web-102", now))

	px := &fakeProxmox{vms: []proxmoxadapter.VMSummary{
		{VMID: 101, Status: "running", Tags: []string{"ca-group-web"}},
		{VMID: 999, Status: "running", Tags: []string{"ca-group-web"}},
	}}

	gctx, err := group.Build(ctx, s, px, "web", 2)
	assert.NoError(err)
	assert.Equal(2, gctx.Desired)
	assert.Len(gctx.Members, 3)

	byVMID := make(map[int]group.Member, len(gctx.Members))
	for _, m := range gctx.Members {
		byVMID[m.VMID] = m
	}

	assert.Equal(group.TrackedPresent, byVMID[101].Category)
	assert.Equal(group.TrackedMissing, byVMID[102].Category)
	assert.Equal(group.UntrackedPresent, byVMID[999].Category)
}

func TestLiveCountsPendingAndActiveOnly(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.InsertPending(ctx, 1, "web", "web-1", now))
	require.NoError(t, s.InsertPending(ctx, 2, "web", "web-2", now))
	require.NoError(t, s.CASState(ctx, 2, "pending", "failed", "boom", now))

	px := &fakeProxmox{}

	gctx, err := group.Build(ctx, s, px, "web", 2)
	assert.NoError(err)
	assert.Equal(1, gctx.Live())
}
