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

// Package kubeadapter is the C4 Kube Adapter: a read-only Resolve that
// maps a k3s node name to the group/vmid this provider joined it
// under, by reading the two well-known node labels set by the seed's
// k3s install step, plus DeleteNode, the one operation that removes a
// Node object during VM teardown.
package kubeadapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

// LabelGroup and LabelVMID are the node labels the seed's k3s agent
// join sets, and the only ones this adapter reads.
const (
	LabelGroup = "autoscaler.proxmox/group"
	LabelVMID  = "autoscaler.proxmox/vmid"
)

// Resolution is the result of a successful Resolve.
type Resolution struct {
	GroupID string
	VMID    int
}

// Adapter resolves a k3s node name to the VM that backs it.
type Adapter struct {
	kube  kubernetes.Interface
	cache *cache.Cache
}

// New builds an Adapter caching lookups for ttl, which spec.md caps at
// 30s to tolerate a node flapping between reconcile ticks without
// serving stale data for long.
func New(kube kubernetes.Interface, ttl time.Duration) *Adapter {
	return &Adapter{
		kube:  kube,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Resolve looks up nodeName and returns the group/vmid it was joined
// under. It returns types.ErrNotFound if no such node exists, or
// types.ErrTransientKube if the API could not be reached.
func (a *Adapter) Resolve(ctx context.Context, nodeName string) (Resolution, error) {
	if cached, ok := a.cache.Get(nodeName); ok {
		return cached.(Resolution), nil
	}

	node, err := a.kube.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return Resolution{}, fmt.Errorf("node %s: %w", nodeName, types.ErrNotFound)
		}

		return Resolution{}, fmt.Errorf("resolving node %s: %w: %w", nodeName, types.ErrTransientKube, err)
	}

	res, err := fromLabels(node)
	if err != nil {
		return Resolution{}, err
	}

	a.cache.SetDefault(nodeName, res)

	return res, nil
}

// DeleteNode removes nodeName's Node object, if present. It is
// idempotent: an already-absent node is success. This is invoked only
// by the Reconciler's deleting_node cleanup step, distinct from
// Resolve's read-only lookup.
func (a *Adapter) DeleteNode(ctx context.Context, nodeName string) error {
	a.cache.Delete(nodeName)

	err := a.kube.CoreV1().Nodes().Delete(ctx, nodeName, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting node %s: %w: %w", nodeName, types.ErrTransientKube, err)
	}

	return nil
}

func fromLabels(node *corev1.Node) (Resolution, error) {
	groupID, ok := node.Labels[LabelGroup]
	if !ok || groupID == "" {
		return Resolution{}, fmt.Errorf("node %s missing label %s: %w", node.Name, LabelGroup, types.ErrNotFound)
	}

	vmidLabel, ok := node.Labels[LabelVMID]
	if !ok || vmidLabel == "" {
		return Resolution{}, fmt.Errorf("node %s missing label %s: %w", node.Name, LabelVMID, types.ErrNotFound)
	}

	vmid, err := strconv.Atoi(vmidLabel)
	if err != nil {
		return Resolution{}, fmt.Errorf("node %s has non-numeric %s label %q: %w", node.Name, LabelVMID, vmidLabel, types.ErrNotFound)
	}

	return Resolution{GroupID: groupID, VMID: vmid}, nil
}
