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

package scaling_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/kubeadapter"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/scaling"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/store"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func testGroups() []types.Group {
	return []types.Group{
		{ID: "web", MinSize: 0, MaxSize: 3, InstanceShape: types.InstanceShape{Cores: 2, MemoryMB: 2048, DiskGB: 20}},
	}
}

// Invariant 1: min_size <= desired <= max_size across a sequence of
// IncreaseSize/DecreaseTargetSize calls.
func TestIncreaseDecreaseStayWithinGroupBounds(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := openTestStore(t)
	kube := kubeadapter.New(fake.NewSimpleClientset(), time.Second)
	c := scaling.New(s, kube, nil, testGroups(), nil)

	require.NoError(t, c.NodeGroupIncreaseSize(ctx, "web", 2))
	size, err := c.NodeGroupTargetSize(ctx, "web")
	require.NoError(t, err)
	assert.Equal(2, size)

	require.NoError(t, c.NodeGroupIncreaseSize(ctx, "web", 1))
	size, err = c.NodeGroupTargetSize(ctx, "web")
	require.NoError(t, err)
	assert.Equal(3, size)

	assert.True(errors.Is(c.NodeGroupIncreaseSize(ctx, "web", 1), types.ErrOutOfRange))
	size, err = c.NodeGroupTargetSize(ctx, "web")
	require.NoError(t, err)
	assert.Equal(3, size, "a rejected increase must not move desired")

	require.NoError(t, c.NodeGroupDecreaseTargetSize(ctx, "web", -1))
	size, err = c.NodeGroupTargetSize(ctx, "web")
	require.NoError(t, err)
	assert.Equal(2, size)
}

// S6: IncreaseSize beyond max_size is rejected and desired is untouched.
func TestIncreaseSizeRejectsBeyondMaxSize(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := openTestStore(t)
	kube := kubeadapter.New(fake.NewSimpleClientset(), time.Second)
	c := scaling.New(s, kube, nil, testGroups(), nil)

	require.NoError(t, c.NodeGroupIncreaseSize(ctx, "web", 1))

	err := c.NodeGroupIncreaseSize(ctx, "web", 10)
	assert.True(errors.Is(err, types.ErrOutOfRange))

	size, err := c.NodeGroupTargetSize(ctx, "web")
	require.NoError(t, err)
	assert.Equal(1, size)
}

// Invariant 4 / DecreaseTargetSize must never drop desired below the
// group's live (pending+active) count.
func TestDecreaseTargetSizeRejectsBelowLiveCount(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := openTestStore(t)
	kube := kubeadapter.New(fake.NewSimpleClientset(), time.Second)
	c := scaling.New(s, kube, nil, testGroups(), nil)

	require.NoError(t, c.NodeGroupIncreaseSize(ctx, "web", 2))
	require.NoError(t, s.InsertPending(ctx, 1, "web", "web-1", time.Now()))
	require.NoError(t, s.InsertPending(ctx, 2, "web", "web-2", time.Now()))

	err := c.NodeGroupDecreaseTargetSize(ctx, "web", -2)
	assert.True(errors.Is(err, types.ErrOutOfRange))

	size, err := c.NodeGroupTargetSize(ctx, "web")
	require.NoError(t, err)
	assert.Equal(2, size)
}

// S3: targeted deletion marks the resolved vmid for teardown and
// decrements desired by exactly one.
func TestDeleteNodesMarksResolvedVMAndDecrementsDesired(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := openTestStore(t)

	node := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name: "nodeA",
			Labels: map[string]string{
				kubeadapter.LabelGroup: "web",
				kubeadapter.LabelVMID:  "101",
			},
		},
	}
	kube := kubeadapter.New(fake.NewSimpleClientset(node), time.Second)
	c := scaling.New(s, kube, nil, testGroups(), nil)

	require.NoError(t, c.NodeGroupIncreaseSize(ctx, "web", 2))
	require.NoError(t, s.InsertPending(ctx, 101, "web", "nodeA", time.Now()))
	require.NoError(t, s.InsertPending(ctx, 102, "web", "web-102", time.Now()))

	require.NoError(t, c.NodeGroupDeleteNodes(ctx, "web", []string{"nodeA"}))

	row, ok, err := s.GetVM(ctx, 101)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(types.StateDeletingVM, row.State)

	size, err := c.NodeGroupTargetSize(ctx, "web")
	require.NoError(t, err)
	assert.Equal(1, size)
}

// DeleteNodes falls back to matching by hostname when the Kube
// Adapter has no record of the node (it never joined).
func TestDeleteNodesFallsBackToHostnameMatch(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := openTestStore(t)
	kube := kubeadapter.New(fake.NewSimpleClientset(), time.Second)
	c := scaling.New(s, kube, nil, testGroups(), nil)

	require.NoError(t, c.NodeGroupIncreaseSize(ctx, "web", 1))
	require.NoError(t, s.InsertPending(ctx, 201, "web", "web-201", time.Now()))

	require.NoError(t, c.NodeGroupDeleteNodes(ctx, "web", []string{"web-201"}))

	row, ok, err := s.GetVM(ctx, 201)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(types.StateDeletingVM, row.State)
}

// Unknown node names are ignored, not errors.
func TestDeleteNodesIgnoresUnknownNodes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := openTestStore(t)
	kube := kubeadapter.New(fake.NewSimpleClientset(), time.Second)
	c := scaling.New(s, kube, nil, testGroups(), nil)

	require.NoError(t, c.NodeGroupIncreaseSize(ctx, "web", 1))

	assert.NoError(c.NodeGroupDeleteNodes(ctx, "web", []string{"ghost"}))

	size, err := c.NodeGroupTargetSize(ctx, "web")
	require.NoError(t, err)
	assert.Equal(1, size, "an unresolved node must not change desired")
}

func TestNodeGroupNodesFormatsProviderID(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := openTestStore(t)
	kube := kubeadapter.New(fake.NewSimpleClientset(), time.Second)
	c := scaling.New(s, kube, nil, testGroups(), nil)

	require.NoError(t, s.InsertPending(ctx, 301, "web", "web-301", time.Now()))

	nodes, err := c.NodeGroupNodes(ctx, "web")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal("proxmox://web/301", nodes[0].ProviderID)
	assert.Equal("pending", nodes[0].Status)
}

func TestNodeGroupForNodeReturnsEmptyForUnmanagedNode(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := openTestStore(t)
	kube := kubeadapter.New(fake.NewSimpleClientset(), time.Second)
	c := scaling.New(s, kube, nil, testGroups(), nil)

	groupID, err := c.NodeGroupForNode(ctx, "unknown-node")
	assert.NoError(err)
	assert.Empty(groupID)
}
