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

package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/group"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/kubeadapter"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/lifecycle"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/locks"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/metrics"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/proxmoxadapter"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/seed"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/store"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

// Config is everything the domain tick needs beyond its collaborators.
type Config struct {
	Groups           []types.Group
	PendingVMTimeout time.Duration
	CloudImageURL    string
	ImportStorage    string
	VMStorage        string
	ISOStorage       string
	NetworkBridge    string
	K3s              seed.K3sConfig
}

// Reconciler is the domain Handler: one Reconcile call drives every
// configured group's Group Context to its next state.
type Reconciler struct {
	store    *store.Store
	px       proxmoxadapter.Adapter
	kube     *kubeadapter.Adapter
	uploader *seed.Uploader
	vmidLock *locks.Keyed
	metrics  *metrics.Metrics

	cfg    Config
	logger logr.Logger
}

// New builds a Reconciler. m may be nil, in which case metrics are a
// no-op.
func New(st *store.Store, px proxmoxadapter.Adapter, kube *kubeadapter.Adapter, uploader *seed.Uploader, cfg Config, logger logr.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:    st,
		px:       px,
		kube:     kube,
		uploader: uploader,
		vmidLock: locks.New(),
		metrics:  m,
		cfg:      cfg,
		logger:   logger,
	}
}

// Reconcile runs one tick: every group's work runs concurrently, but
// work on a single vmid is always serial within and across groups,
// since vmidLock is shared across the whole tick.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	var g errgroup.Group

	for _, grp := range r.cfg.Groups {
		grp := grp

		g.Go(func() error {
			return r.reconcileGroup(ctx, grp)
		})
	}

	return g.Wait()
}

func (r *Reconciler) reconcileGroup(ctx context.Context, grp types.Group) error {
	log := r.logger.WithValues("group", grp.ID)

	gctx, err := group.Build(ctx, r.store, r.px, grp.ID, grp.MinSize)
	if err != nil {
		log.Error(err, "failed to build group context")

		return err
	}

	var errs error

	for _, m := range gctx.Members {
		if err := r.reconcileMember(ctx, grp, m); err != nil {
			log.Error(err, "failed to reconcile member", "vmid", m.VMID)
			errs = multierr.Append(errs, err)
		}
	}

	live := gctx.Live()
	target := gctx.Desired

	r.metrics.SetGroupSizes(grp.ID, target, live)

	switch {
	case live < target:
		r.scaleUp(ctx, grp, target-live)
	case live > target:
		r.scaleDown(ctx, grp, gctx, live-target)
	}

	return errs
}

// reconcileMember drives cleanup transitions and pending->active
// promotion/timeout for one already-tracked-or-orphaned vmid.
func (r *Reconciler) reconcileMember(ctx context.Context, grp types.Group, m group.Member) error {
	var result error

	r.vmidLock.WithLock(vmidLockKey(m.VMID), func() {
		result = r.reconcileMemberLocked(ctx, grp, m)
	})

	return result
}

func vmidLockKey(vmid int) string {
	return "vmid:" + strconv.Itoa(vmid)
}

func (r *Reconciler) reconcileMemberLocked(ctx context.Context, grp types.Group, m group.Member) error {
	switch m.Category {
	case group.UntrackedPresent:
		return r.adoptOrDestroyOrphan(ctx, grp, m)
	case group.TrackedMissing:
		return r.advanceOnMissingVM(ctx, m.Row)
	case group.TrackedPresent:
		return r.reconcileTrackedPresent(ctx, grp, m)
	}

	return nil
}

// adoptOrDestroyOrphan handles a VM Proxmox reports with this group's
// tag but that has no State Store row. The decision rests on the VM's
// power state alone: a running orphan is adopted straight into active,
// skipping the pending/promotion dance since it is already observed
// up; a stopped one gets a row in deleting_vm and is torn down.
func (r *Reconciler) adoptOrDestroyOrphan(ctx context.Context, grp types.Group, m group.Member) error {
	if !hasTag(m.ProxmoxTags, types.GroupTag(grp.ID)) {
		return nil
	}

	if m.ProxmoxRunning {
		if err := r.store.InsertActive(ctx, m.VMID, grp.ID, hostnameFor(grp.ID, m.VMID), time.Now()); err != nil {
			return err
		}

		r.metrics.IncVMStateTransition(grp.ID, "orphan", string(types.StateActive))

		return nil
	}

	if err := r.store.InsertDeleting(ctx, m.VMID, grp.ID, hostnameFor(grp.ID, m.VMID), time.Now()); err != nil {
		return err
	}

	r.metrics.IncVMStateTransition(grp.ID, "orphan", string(types.StateDeletingVM))

	return nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}

	return false
}

func hostnameFor(groupID string, vmid int) string {
	return groupID + "-" + strconv.Itoa(vmid)
}

// advanceOnMissingVM drives the cleanup chain when Proxmox no longer
// has the VM the Store still tracks.
func (r *Reconciler) advanceOnMissingVM(ctx context.Context, row types.VM) error {
	switch row.State {
	case types.StateDeletingVM:
		return r.transition(ctx, row, types.StateDeletingISO)
	case types.StateDeletingISO:
		// The VM is gone, but its seed ISO is a separate volume that
		// still has to be destroyed before the row moves on.
		return r.driveCleanup(ctx, row)
	case types.StateDeletingNode:
		return r.finalizeDeletion(ctx, row)
	default:
		// Pending/active/failed rows whose VM vanished unexpectedly
		// are driven straight into the standard teardown chain.
		return r.transition(ctx, row, types.StateDeletingVM)
	}
}

func (r *Reconciler) reconcileTrackedPresent(ctx context.Context, grp types.Group, m group.Member) error {
	row := m.Row

	switch row.State {
	case types.StateFailed, types.StateDeletingVM, types.StateDeletingISO, types.StateDeletingNode:
		return r.driveCleanup(ctx, row)
	case types.StatePending:
		return r.reconcilePending(ctx, grp, row, m)
	}

	return nil
}

// driveCleanup executes exactly the side effect the current state
// requires, then advances the row once it succeeds.
func (r *Reconciler) driveCleanup(ctx context.Context, row types.VM) error {
	switch row.State {
	case types.StateFailed:
		return r.transition(ctx, row, types.StateDeletingVM)
	case types.StateDeletingVM:
		if err := r.px.DestroyVM(ctx, row.VMID); err != nil {
			return err
		}

		return r.transition(ctx, row, types.StateDeletingISO)
	case types.StateDeletingISO:
		volid := r.cfg.ISOStorage + ":iso/" + seed.VolumeName(row.VMID)

		if err := r.px.DestroyISO(ctx, volid); err != nil {
			return err
		}

		return r.transition(ctx, row, types.StateDeletingNode)
	case types.StateDeletingNode:
		return r.finalizeDeletion(ctx, row)
	}

	return nil
}

func (r *Reconciler) finalizeDeletion(ctx context.Context, row types.VM) error {
	if err := r.kube.DeleteNode(ctx, row.Hostname); err != nil {
		return err
	}

	return r.store.DeleteVM(ctx, row.VMID, types.StateDeletingNode)
}

func (r *Reconciler) reconcilePending(ctx context.Context, grp types.Group, row types.VM, m group.Member) error {
	if time.Since(row.CreatedAt) > r.cfg.PendingVMTimeout {
		return r.transition(ctx, row, types.StateFailed)
	}

	if !m.ProxmoxRunning {
		// The create pipeline hasn't finished (or is retrying after a
		// transient failure on a prior tick); resume it rather than
		// wait for the next scaleUp, which only runs it once.
		r.runCreatePipeline(ctx, grp, row.VMID, row.Hostname)

		return nil
	}

	res, err := r.kube.Resolve(ctx, row.Hostname)
	if err != nil {
		// Node not joined yet, or the API is briefly unreachable;
		// either way this is not a promotion-worthy condition yet.
		return nil
	}

	if res.GroupID != grp.ID || res.VMID != row.VMID {
		return nil
	}

	return r.transition(ctx, row, types.StateActive)
}

// transition validates row.State -> to against the lifecycle table and
// commits it. Callers that reach a transition requiring a side effect
// (driveCleanup) must have already performed that effect; transition
// itself never talks to Proxmox or Kubernetes.
func (r *Reconciler) transition(ctx context.Context, row types.VM, to types.VMState) error {
	if !lifecycle.CanTransition(row.State, to) {
		return fmt.Errorf("vmid %d: %w", row.VMID, types.ErrIllegalTransition)
	}

	if err := r.store.CASState(ctx, row.VMID, row.State, to, "", time.Now()); err != nil {
		return err
	}

	r.metrics.IncVMStateTransition(row.GroupID, string(row.State), string(to))

	return nil
}

func (r *Reconciler) scaleUp(ctx context.Context, grp types.Group, count int) {
	for i := 0; i < count; i++ {
		vmid, err := r.px.NextVMID(ctx)
		if err != nil {
			r.logger.Error(err, "failed to allocate vmid", "group", grp.ID)

			return
		}

		hostname := hostnameFor(grp.ID, vmid)

		if err := r.store.InsertPending(ctx, vmid, grp.ID, hostname, time.Now()); err != nil {
			r.logger.Error(err, "failed to record new pending vm", "group", grp.ID, "vmid", vmid)

			continue
		}

		r.metrics.IncVMStateTransition(grp.ID, "none", string(types.StatePending))

		r.vmidLock.WithLock(vmidLockKey(vmid), func() {
			r.runCreatePipeline(ctx, grp, vmid, hostname)
		})
	}
}

func (r *Reconciler) scaleDown(ctx context.Context, grp types.Group, gctx group.Context, count int) {
	victims := selectVictims(gctx, count)

	for _, row := range victims {
		if err := r.store.CASState(ctx, row.VMID, row.State, types.StateDeletingVM, "", time.Now()); err != nil {
			r.logger.Error(err, "failed to mark victim for deletion", "group", grp.ID, "vmid", row.VMID)
		}
	}
}
