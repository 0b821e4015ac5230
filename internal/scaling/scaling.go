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

// Package scaling is the C8 Scaling Controller: the nine handlers the
// remote-call surface (A3) adapts to the wire protocol. Every handler
// is strictly non-blocking with respect to Proxmox — it only reads or
// mutates the State Store and the Kube Adapter's cached view, guarded
// by a per-group lock, and never calls the Proxmox Adapter directly.
// The reconciler (C7) is solely responsible for making the store's
// desired state real.
package scaling

import (
	"context"
	"fmt"
	"time"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/kubeadapter"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/locks"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/metrics"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/reconcile"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/store"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

// Node is one entry of NodeGroupNodes.
type Node struct {
	ProviderID string
	Status     string
}

// Controller implements the nine node-group operations the autoscaler's
// remote protocol calls. It never blocks on Proxmox.
type Controller struct {
	store     *store.Store
	kube      *kubeadapter.Adapter
	scheduler *reconcile.Scheduler
	groups    map[string]types.Group
	groupLock *locks.Keyed
	metrics   *metrics.Metrics
}

// New builds a Controller over the configured groups. m may be nil, in
// which case metrics are a no-op.
func New(st *store.Store, kube *kubeadapter.Adapter, scheduler *reconcile.Scheduler, groups []types.Group, m *metrics.Metrics) *Controller {
	byID := make(map[string]types.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	return &Controller{
		store:     st,
		kube:      kube,
		scheduler: scheduler,
		groups:    byID,
		groupLock: locks.New(),
		metrics:   m,
	}
}

// NodeGroups lists every configured group.
func (c *Controller) NodeGroups(context.Context) ([]types.Group, error) {
	out := make([]types.Group, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, g)
	}

	return out, nil
}

// NodeGroupForNode resolves nodeName to the group id that owns it, or
// "" if the node is unmanaged.
func (c *Controller) NodeGroupForNode(ctx context.Context, nodeName string) (string, error) {
	res, err := c.kube.Resolve(ctx, nodeName)
	if err != nil {
		return "", nil //nolint:nilerr // an unresolved node is simply unmanaged, not an error
	}

	if _, ok := c.groups[res.GroupID]; !ok {
		return "", nil
	}

	return res.GroupID, nil
}

// NodeGroupTargetSize returns groupID's current desired size.
func (c *Controller) NodeGroupTargetSize(ctx context.Context, groupID string) (int, error) {
	grp, err := c.group(groupID)
	if err != nil {
		return 0, err
	}

	return c.store.GetDesired(ctx, groupID, grp.MinSize)
}

// NodeGroupIncreaseSize bumps groupID's desired size by delta.
func (c *Controller) NodeGroupIncreaseSize(ctx context.Context, groupID string, delta int) error {
	grp, err := c.group(groupID)
	if err != nil {
		return err
	}

	if delta <= 0 {
		c.metrics.IncScalingDecision(groupID, "increase_size", "rejected")

		return fmt.Errorf("increase delta %d must be positive: %w", delta, types.ErrOutOfRange)
	}

	var result error

	c.groupLock.WithLock(groupID, func() {
		cur, err := c.store.GetDesired(ctx, groupID, grp.MinSize)
		if err != nil {
			result = err

			return
		}

		if cur+delta > grp.MaxSize {
			result = fmt.Errorf("group %s: %d + %d exceeds max size %d: %w", groupID, cur, delta, grp.MaxSize, types.ErrOutOfRange)

			return
		}

		result = c.store.CASDesired(ctx, groupID, cur, cur+delta)
	})

	c.metrics.IncScalingDecision(groupID, "increase_size", outcome(result))

	return result
}

// NodeGroupDecreaseTargetSize drops groupID's desired size by delta
// (delta is negative). It may only shrink headroom: it never drops
// desired below the group's current live (pending+active) count,
// since that would implicitly terminate nodes this call is not meant
// to delete.
func (c *Controller) NodeGroupDecreaseTargetSize(ctx context.Context, groupID string, delta int) error {
	grp, err := c.group(groupID)
	if err != nil {
		return err
	}

	if delta >= 0 {
		c.metrics.IncScalingDecision(groupID, "decrease_target_size", "rejected")

		return fmt.Errorf("decrease delta %d must be negative: %w", delta, types.ErrOutOfRange)
	}

	var result error

	c.groupLock.WithLock(groupID, func() {
		cur, err := c.store.GetDesired(ctx, groupID, grp.MinSize)
		if err != nil {
			result = err

			return
		}

		live, err := c.liveCount(ctx, groupID)
		if err != nil {
			result = err

			return
		}

		if cur+delta < live {
			result = fmt.Errorf("group %s: %d + %d would drop below live count %d: %w", groupID, cur, delta, live, types.ErrOutOfRange)

			return
		}

		result = c.store.CASDesired(ctx, groupID, cur, cur+delta)
	})

	c.metrics.IncScalingDecision(groupID, "decrease_target_size", outcome(result))

	return result
}

// NodeGroupDeleteNodes marks every named node's VM for deletion and
// decrements desired by the number successfully marked. Unknown node
// names are ignored rather than treated as an error.
func (c *Controller) NodeGroupDeleteNodes(ctx context.Context, groupID string, nodeNames []string) error {
	grp, err := c.group(groupID)
	if err != nil {
		return err
	}

	var result error

	c.groupLock.WithLock(groupID, func() {
		marked := 0

		for _, name := range nodeNames {
			row, ok, err := c.resolveNode(ctx, groupID, name)
			if err != nil {
				result = err

				return
			}

			if !ok {
				continue
			}

			if row.State != types.StatePending && row.State != types.StateActive {
				continue
			}

			if err := c.store.CASState(ctx, row.VMID, row.State, types.StateDeletingVM, "", time.Now()); err != nil {
				result = err

				return
			}

			marked++
		}

		if marked == 0 {
			return
		}

		cur, err := c.store.GetDesired(ctx, groupID, grp.MinSize)
		if err != nil {
			result = err

			return
		}

		result = c.store.CASDesired(ctx, groupID, cur, cur-marked)
	})

	c.metrics.IncScalingDecision(groupID, "delete_nodes", outcome(result))

	return result
}

// NodeGroupNodes lists every pending or active VM in groupID.
func (c *Controller) NodeGroupNodes(ctx context.Context, groupID string) ([]Node, error) {
	if _, err := c.group(groupID); err != nil {
		return nil, err
	}

	rows, err := c.store.ListVMs(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing nodes for group %s: %w", groupID, err)
	}

	out := make([]Node, 0, len(rows))

	for _, row := range rows {
		if !row.Live() {
			continue
		}

		out = append(out, Node{
			ProviderID: types.ProviderID(row.GroupID, row.VMID),
			Status:     string(row.State),
		})
	}

	return out, nil
}

// Refresh is a no-op: the reconciler is autonomous and needs no
// external prompt to re-evaluate a group.
func (c *Controller) Refresh(context.Context) error {
	return nil
}

// Cleanup signals the reconciler to stop at its next tick boundary.
func (c *Controller) Cleanup(context.Context) error {
	c.scheduler.Stop()

	return nil
}

func outcome(err error) string {
	if err != nil {
		return "rejected"
	}

	return "accepted"
}

func (c *Controller) group(groupID string) (types.Group, error) {
	grp, ok := c.groups[groupID]
	if !ok {
		return types.Group{}, fmt.Errorf("group %s: %w", groupID, types.ErrNotFound)
	}

	return grp, nil
}

func (c *Controller) liveCount(ctx context.Context, groupID string) (int, error) {
	rows, err := c.store.ListVMs(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("counting live vms for group %s: %w", groupID, err)
	}

	n := 0

	for _, row := range rows {
		if row.Live() {
			n++
		}
	}

	return n, nil
}

// resolveNode finds the VM row backing nodeName: first via the Kube
// Adapter's label lookup, falling back to a hostname match in the
// State Store for nodes that never successfully joined (and so never
// got their labels set, but still have a row recording the attempt).
func (c *Controller) resolveNode(ctx context.Context, groupID, nodeName string) (types.VM, bool, error) {
	if res, err := c.kube.Resolve(ctx, nodeName); err == nil && res.GroupID == groupID {
		row, ok, err := c.store.GetVM(ctx, res.VMID)
		if err != nil {
			return types.VM{}, false, fmt.Errorf("resolving node %s: %w", nodeName, err)
		}

		if ok {
			return row, true, nil
		}
	}

	rows, err := c.store.ListVMs(ctx, groupID)
	if err != nil {
		return types.VM{}, false, fmt.Errorf("resolving node %s: %w", nodeName, err)
	}

	for _, row := range rows {
		if row.Hostname == nodeName {
			return row, true, nil
		}
	}

	return types.VM{}, false, nil
}
