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

// Package types holds the data model shared by every component of the
// Proxmox cloud-provider: node groups, their desired size, and the
// VMs that belong to them.
package types

import (
	"fmt"
	"time"
)

// VMState is one of the six lifecycle states a managed VM can be in.
type VMState string

const (
	StatePending      VMState = "pending"
	StateActive       VMState = "active"
	StateFailed       VMState = "failed"
	StateDeletingVM   VMState = "deleting_vm"
	StateDeletingISO  VMState = "deleting_iso"
	StateDeletingNode VMState = "deleting_node"
)

// InstanceShape describes the homogeneous hardware profile of every
// VM in a node group.
type InstanceShape struct {
	Cores    int
	MemoryMB int
	DiskGB   int
}

// Group is the immutable, runtime configuration of a node group.
type Group struct {
	ID              string
	MinSize         int
	MaxSize         int
	InstanceShape   InstanceShape
	TemplatePayload string
}

// Tag returns the Proxmox tag that marks a VM as belonging to this group.
func (g Group) Tag() string {
	return GroupTag(g.ID)
}

// GroupTag returns the Proxmox tag for a given group id.
func GroupTag(groupID string) string {
	return fmt.Sprintf("ca-group-%s", groupID)
}

// ProviderID formats the autoscaler provider id for a VM.
func ProviderID(groupID string, vmid int) string {
	return fmt.Sprintf("proxmox://%s/%d", groupID, vmid)
}

// VM is a single managed VM row as stored by the State Store.
type VM struct {
	VMID             int
	GroupID          string
	Hostname         string
	State            VMState
	CreatedAt        time.Time
	LastTransitionAt time.Time
	LastError        string
}

// Live reports whether the VM still counts toward a group's live count.
func (v VM) Live() bool {
	return v.State == StatePending || v.State == StateActive
}
