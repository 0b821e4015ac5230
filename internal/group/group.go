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

// Package group is the C5 Group Context: a stateless view builder
// that outer-joins the State Store's idea of a group's VMs against
// what Proxmox actually reports for that group's tag, so the
// Reconciler always drives off one reconciled snapshot instead of two
// diverging sources of truth.
package group

import (
	"context"
	"fmt"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/proxmoxadapter"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/store"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

// Category classifies one vmid's join result.
type Category int

const (
	// TrackedPresent: row exists in the Store and Proxmox has the VM.
	TrackedPresent Category = iota
	// TrackedMissing: row exists, but Proxmox no longer has the VM.
	TrackedMissing
	// UntrackedPresent: Proxmox has the VM tagged for this group, but
	// there is no Store row — an orphan, for example one left behind
	// by a prior provider instance or a lost state file.
	UntrackedPresent
)

// Member is one vmid's joined view.
type Member struct {
	VMID           int
	Category       Category
	Row            types.VM
	ProxmoxPresent bool
	ProxmoxRunning bool
	ProxmoxTags    []string
}

// Context is the reconciled snapshot for one group, rebuilt every tick.
type Context struct {
	GroupID string
	Desired int
	Members []Member
}

// Build assembles the Context for groupID: every VM the Store tracks
// for this group, outer-joined against every Proxmox VM carrying the
// group's tag.
func Build(ctx context.Context, st *store.Store, px proxmoxadapter.Adapter, groupID string, defaultDesired int) (Context, error) {
	desired, err := st.GetDesired(ctx, groupID, defaultDesired)
	if err != nil {
		return Context{}, fmt.Errorf("building group context for %s: %w", groupID, err)
	}

	rows, err := st.ListVMs(ctx, groupID)
	if err != nil {
		return Context{}, fmt.Errorf("building group context for %s: %w", groupID, err)
	}

	proxmoxVMs, err := px.ListVMsWithTag(ctx, types.GroupTag(groupID))
	if err != nil {
		return Context{}, fmt.Errorf("building group context for %s: %w", groupID, err)
	}

	byVMID := make(map[int]proxmoxadapter.VMSummary, len(proxmoxVMs))
	for _, v := range proxmoxVMs {
		byVMID[v.VMID] = v
	}

	seen := make(map[int]bool, len(rows))
	members := make([]Member, 0, len(rows)+len(proxmoxVMs))

	for _, row := range rows {
		seen[row.VMID] = true

		if pv, ok := byVMID[row.VMID]; ok {
			members = append(members, Member{
				VMID:           row.VMID,
				Category:       TrackedPresent,
				Row:            row,
				ProxmoxPresent: true,
				ProxmoxRunning: pv.Status == "running",
				ProxmoxTags:    pv.Tags,
			})

			continue
		}

		members = append(members, Member{
			VMID:     row.VMID,
			Category: TrackedMissing,
			Row:      row,
		})
	}

	for vmid, pv := range byVMID {
		if seen[vmid] {
			continue
		}

		members = append(members, Member{
			VMID:           vmid,
			Category:       UntrackedPresent,
			ProxmoxPresent: true,
			ProxmoxRunning: pv.Status == "running",
			ProxmoxTags:    pv.Tags,
		})
	}

	return Context{GroupID: groupID, Desired: desired, Members: members}, nil
}

// Live reports how many members are in a non-terminal store state
// (pending or active), the "live" count the Reconciler compares
// against desired when deciding to scale.
func (c Context) Live() int {
	n := 0

	for _, m := range c.Members {
		if m.Category == TrackedPresent || m.Category == TrackedMissing {
			if m.Row.Live() {
				n++
			}
		}
	}

	return n
}
