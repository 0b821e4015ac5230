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

// Package proxmoxadapter is the C2 Proxmox Adapter: a narrow async
// facade over Proxmox VM operations, wrapping
// github.com/luthermonson/go-proxmox the way this codebase's existing
// Proxmox client package does. Every method is retryable by the
// Reconciler and fails with either types.ErrTransientProxmox or
// types.ErrPermanentProxmox.
package proxmoxadapter

import (
	"context"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

// VMSummary is one entry of list_vms_with_tag.
type VMSummary struct {
	VMID   int
	Name   string
	Status string
	Tags   []string
}

// VMStatus is the result of vm_status.
type VMStatus struct {
	Present bool
	Running bool
	Tags    []string
}

// CreateOptions parameterizes create_vm.
type CreateOptions struct {
	VMID     int
	Shape    types.InstanceShape
	Hostname string
	Storage  string
	Bridge   string
	Tags     []string
}

// Adapter is the fixed surface spec.md §4.2 requires. Every method may
// block on remote I/O and is safe to call again after a transient
// failure; idempotent methods are documented per-method.
type Adapter interface {
	ListVMsWithTag(ctx context.Context, tag string) ([]VMSummary, error)
	NextVMID(ctx context.Context) (int, error)
	CreateVM(ctx context.Context, opts CreateOptions) error
	ImportDisk(ctx context.Context, vmid int, imageURL, targetStorage string) error
	AttachISO(ctx context.Context, vmid int, isoVolume string) error
	StartVM(ctx context.Context, vmid int) error
	StopVM(ctx context.Context, vmid int) error
	DestroyVM(ctx context.Context, vmid int) error
	DestroyISO(ctx context.Context, isoVolume string) error
	VMStatus(ctx context.Context, vmid int) (VMStatus, error)
}
