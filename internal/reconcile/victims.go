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
	"sort"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/group"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

// selectVictims picks count VMs to scale down out of gctx's live
// members, preferring pending over active, then oldest first within
// each tier.
func selectVictims(gctx group.Context, count int) []types.VM {
	var pending, active []types.VM

	for _, m := range gctx.Members {
		if m.Category != group.TrackedPresent && m.Category != group.TrackedMissing {
			continue
		}

		if !m.Row.Live() {
			continue
		}

		switch m.Row.State {
		case types.StatePending:
			pending = append(pending, m.Row)
		case types.StateActive:
			active = append(active, m.Row)
		}
	}

	oldestFirst := func(vms []types.VM) {
		sort.Slice(vms, func(i, j int) bool {
			return vms[i].CreatedAt.Before(vms[j].CreatedAt)
		})
	}

	oldestFirst(pending)
	oldestFirst(active)

	ordered := append(pending, active...)

	if count > len(ordered) {
		count = len(ordered)
	}

	return ordered[:count]
}
