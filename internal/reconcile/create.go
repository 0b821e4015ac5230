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
	"errors"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/proxmoxadapter"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/seed"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

// runCreatePipeline drives a single vmid through the four create
// steps in order. Every step is idempotent, so re-entering after a
// transient failure resumes rather than duplicates work. A permanent
// failure anywhere advances the row straight to failed; a transient
// one leaves it in pending for the next tick to retry.
func (r *Reconciler) runCreatePipeline(ctx context.Context, grp types.Group, vmid int, hostname string) {
	row, ok, err := r.store.GetVM(ctx, vmid)
	if err != nil || !ok || row.State != types.StatePending {
		return
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"create_vm", func() error {
			return r.px.CreateVM(ctx, proxmoxadapter.CreateOptions{
				VMID:     vmid,
				Shape:    grp.InstanceShape,
				Hostname: hostname,
				Storage:  r.cfg.VMStorage,
				Bridge:   r.cfg.NetworkBridge,
				Tags:     []string{types.GroupTag(grp.ID)},
			})
		}},
		{"import_disk", func() error {
			return r.px.ImportDisk(ctx, vmid, r.cfg.CloudImageURL, r.cfg.ImportStorage)
		}},
		{"seed", func() error {
			return r.buildAndAttachSeed(ctx, grp, vmid, hostname)
		}},
		{"start_vm", func() error {
			return r.px.StartVM(ctx, vmid)
		}},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			if isPermanent(err) {
				r.logger.Error(err, "create pipeline step permanently failed", "vmid", vmid, "step", step.name)
				_ = r.transition(ctx, row, types.StateFailed)
			} else {
				r.logger.V(1).Info("create pipeline step will retry next tick", "vmid", vmid, "step", step.name, "err", err.Error())
			}

			return
		}
	}
}

func (r *Reconciler) buildAndAttachSeed(ctx context.Context, grp types.Group, vmid int, hostname string) error {
	metaData, userData, err := seed.Render(grp.ID, vmid, hostname, r.cfg.K3s)
	if err != nil {
		return err
	}

	volid, err := r.uploader.Upload(ctx, vmid, metaData, userData)
	if err != nil {
		return err
	}

	return r.px.AttachISO(ctx, vmid, volid)
}

func isPermanent(err error) bool {
	return errors.Is(err, types.ErrPermanentProxmox)
}
