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

package proxmoxadapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/luthermonson/go-proxmox"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

// Client is the Adapter implementation, wrapping a single-node Proxmox
// client the way this codebase's existing goproxmox.APIClient does.
// Every VM on this provider lives on one configured node; Proxmox
// cluster-wide placement is out of scope.
type Client struct {
	pve  *proxmox.Client
	node string

	callTimeout time.Duration
	nextIDCache *cache.Cache
}

// New builds a Client against the given Proxmox API URL, authenticating
// with an API token the way a human operator would mint one for this
// provider's service account.
func New(apiURL, tokenID, tokenSecret, node string, insecureTLS bool, callTimeout time.Duration) *Client {
	opts := []proxmox.Option{
		proxmox.WithAPIToken(tokenID, tokenSecret),
	}

	if insecureTLS {
		opts = append(opts, proxmox.WithHTTPClient(insecureHTTPClient()))
	}

	return &Client{
		pve:         proxmox.NewClient(apiURL, opts...),
		node:        node,
		callTimeout: callTimeout,
		nextIDCache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Raw exposes the underlying go-proxmox client so the seed package's
// Uploader can share this Client's connection and credentials instead
// of authenticating a second time.
func (c *Client) Raw() *proxmox.Client {
	return c.pve
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// ListVMsWithTag returns every VM on the cluster carrying tag, the way
// the Group Context (C5) discovers VMs Proxmox believes belong to a
// group, independent of what the State Store has recorded.
func (c *Client) ListVMsWithTag(ctx context.Context, tag string) ([]VMSummary, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cluster, err := c.pve.Cluster(ctx)
	if err != nil {
		return nil, classify("list_vms_with_tag", err)
	}

	resources, err := cluster.Resources(ctx, "vm")
	if err != nil {
		return nil, classify("list_vms_with_tag", err)
	}

	var out []VMSummary

	for _, r := range resources {
		tags := splitTags(r.Tags)
		if !containsTag(tags, tag) {
			continue
		}

		out = append(out, VMSummary{
			VMID:   int(r.VMID),
			Name:   r.Name,
			Status: r.Status,
			Tags:   tags,
		})
	}

	return out, nil
}

// NextVMID returns a VMID Proxmox has not yet assigned, skipping IDs
// this process has already handed out but that may not yet be visible
// cluster-wide, matching the teacher's lastVmID cache idiom.
func (c *Client) NextVMID(ctx context.Context) (int, error) {
	return c.nextVMIDFrom(ctx, 0)
}

func (c *Client) nextVMIDFrom(ctx context.Context, hint int) (int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := map[string]interface{}{}
	if hint > 0 {
		params["vmid"] = hint
	}

	var ret string
	if err := c.pve.GetWithParams(ctx, "/cluster/nextid", params, &ret); err != nil {
		if hint > 0 && strings.HasPrefix(err.Error(), "bad request: 400 ") {
			return c.nextVMIDFrom(ctx, hint+1)
		}

		return 0, classify("next_vmid", err)
	}

	id, err := strconv.Atoi(ret)
	if err != nil {
		return 0, classify("next_vmid", err)
	}

	// A successful reply to a request carrying vmid confirms that the
	// hinted ID itself is free.
	if hint > 0 {
		id = hint
	}

	key := strconv.Itoa(id)

	if _, found := c.nextIDCache.Get(key); found {
		return c.nextVMIDFrom(ctx, id+1)
	}

	c.nextIDCache.SetDefault(key, struct{}{})

	return id, nil
}

// CreateVM creates the VM shell for opts.VMID. It is idempotent: if the
// VMID already exists on the configured node, CreateVM returns nil
// without modifying it, since the Reconciler may retry after a
// transient failure partway through the create pipeline.
func (c *Client) CreateVM(ctx context.Context, opts CreateOptions) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	node, err := c.pve.Node(ctx, c.node)
	if err != nil {
		return classify("create_vm", err)
	}

	if _, err := node.VirtualMachine(ctx, opts.VMID); err == nil {
		return nil
	}

	body := map[string]interface{}{
		"vmid":    opts.VMID,
		"name":    opts.Hostname,
		"cores":   opts.Shape.Cores,
		"memory":  opts.Shape.MemoryMB,
		"net0":    fmt.Sprintf("virtio,bridge=%s", opts.Bridge),
		"scsihw":  "virtio-scsi-pci",
		"tags":    strings.Join(opts.Tags, ";"),
		"agent":   "1",
		"ostype":  "l26",
		"boot":    "order=scsi0",
	}

	var upid proxmox.UPID
	if err := c.pve.Post(ctx, fmt.Sprintf("/nodes/%s/qemu", c.node), &body, &upid); err != nil {
		return classify("create_vm", err)
	}

	return c.waitTask(ctx, upid, "create_vm")
}

// ImportDisk pulls imageURL into targetStorage and attaches it to vmid
// as its boot disk. It is idempotent: if the VM already has a scsi0
// disk, ImportDisk assumes a prior attempt finished this step.
func (c *Client) ImportDisk(ctx context.Context, vmid int, imageURL, targetStorage string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	node, err := c.pve.Node(ctx, c.node)
	if err != nil {
		return classify("import_disk", err)
	}

	vm, err := node.VirtualMachine(ctx, vmid)
	if err != nil {
		return classify("import_disk", err)
	}

	if vm.VirtualMachineConfig != nil && vm.VirtualMachineConfig.SCSI0 != "" {
		return nil
	}

	body := map[string]interface{}{
		"content":  "import",
		"filename": fmt.Sprintf("vm-%d-disk-0", vmid),
		"url":      imageURL,
	}

	var upid proxmox.UPID
	if err := c.pve.Post(ctx, fmt.Sprintf("/nodes/%s/storage/%s/download-url", c.node, targetStorage), &body, &upid); err != nil {
		return classify("import_disk", err)
	}

	if err := c.waitTask(ctx, upid, "import_disk"); err != nil {
		return err
	}

	volid := fmt.Sprintf("%s:vm-%d-disk-0", targetStorage, vmid)

	if _, err := vm.Config(ctx, proxmox.VirtualMachineOption{Name: "scsi0", Value: volid}); err != nil {
		return classify("import_disk", err)
	}

	return nil
}

// AttachISO attaches isoVolume (a Proxmox volume ID, e.g.
// "local:iso/seed-101.iso") to vmid's ide2 slot as a cdrom. It is
// idempotent: re-attaching the same volume is a no-op Proxmox accepts.
func (c *Client) AttachISO(ctx context.Context, vmid int, isoVolume string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	node, err := c.pve.Node(ctx, c.node)
	if err != nil {
		return classify("attach_iso", err)
	}

	vm, err := node.VirtualMachine(ctx, vmid)
	if err != nil {
		return classify("attach_iso", err)
	}

	if _, err := vm.Config(ctx, proxmox.VirtualMachineOption{Name: "ide2", Value: fmt.Sprintf("%s,media=cdrom", isoVolume)}); err != nil {
		return classify("attach_iso", err)
	}

	return nil
}

// StartVM starts vmid. It is idempotent: a VM already running is left
// alone.
func (c *Client) StartVM(ctx context.Context, vmid int) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	vm, err := c.vm(ctx, vmid)
	if err != nil {
		return classify("start_vm", err)
	}

	if vm.IsRunning() {
		return nil
	}

	if _, err := vm.Start(ctx); err != nil {
		return classify("start_vm", err)
	}

	return nil
}

// StopVM stops vmid by requesting a graceful shutdown, bounded by
// shutdownGrace; a hard stop is issued only if that shutdown request
// itself returns an error. It does not wait for the VM to power off,
// so a guest that accepts the shutdown request but never halts is not
// hard-stopped. It is idempotent: a VM already stopped is left alone.
func (c *Client) StopVM(ctx context.Context, vmid int) error {
	const shutdownGrace = 30 * time.Second

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	vm, err := c.vm(ctx, vmid)
	if err != nil {
		return classify("stop_vm", err)
	}

	if !vm.IsRunning() {
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, shutdownGrace)
	_, shutdownErr := vm.Shutdown(shutdownCtx)
	shutdownCancel()

	if shutdownErr == nil {
		return nil
	}

	if _, err := vm.Stop(ctx); err != nil {
		return classify("stop_vm", err)
	}

	return nil
}

// DestroyVM deletes vmid. It is idempotent: an already-absent VM is
// success, per destroy_vm's documented contract.
func (c *Client) DestroyVM(ctx context.Context, vmid int) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	vm, err := c.vm(ctx, vmid)
	if err != nil {
		if isNotFound(err) {
			return nil
		}

		return classify("destroy_vm", err)
	}

	if vm.IsRunning() {
		if _, err := vm.Stop(ctx); err != nil {
			return classify("destroy_vm", err)
		}
	}

	if _, err := vm.Delete(ctx); err != nil {
		if isNotFound(err) {
			return nil
		}

		return classify("destroy_vm", err)
	}

	return nil
}

// DestroyISO removes isoVolume from its storage. It is idempotent: an
// already-absent volume is success.
func (c *Client) DestroyISO(ctx context.Context, isoVolume string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	storage, _, ok := strings.Cut(isoVolume, ":")
	if !ok {
		return fmt.Errorf("destroy_iso: malformed volume id %q: %w", isoVolume, types.ErrPermanentProxmox)
	}

	path := fmt.Sprintf("/nodes/%s/storage/%s/content/%s", c.node, storage, isoVolume)

	var upid string
	if err := c.pve.Delete(ctx, path, &upid); err != nil {
		if isNotFound(err) {
			return nil
		}

		return classify("destroy_iso", err)
	}

	if upid == "" {
		return nil
	}

	return c.waitTask(ctx, proxmox.UPID(upid), "destroy_iso")
}

// VMStatus reports whether vmid exists, is running, and its tags.
func (c *Client) VMStatus(ctx context.Context, vmid int) (VMStatus, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	vm, err := c.vm(ctx, vmid)
	if err != nil {
		if isNotFound(err) {
			return VMStatus{}, nil
		}

		return VMStatus{}, classify("vm_status", err)
	}

	tags := ""
	if vm.VirtualMachineConfig != nil {
		tags = vm.VirtualMachineConfig.Tags
	}

	return VMStatus{
		Present: true,
		Running: vm.IsRunning(),
		Tags:    splitTags(tags),
	}, nil
}

func (c *Client) vm(ctx context.Context, vmid int) (*proxmox.VirtualMachine, error) {
	node, err := c.pve.Node(ctx, c.node)
	if err != nil {
		return nil, err
	}

	return node.VirtualMachine(ctx, vmid)
}

func (c *Client) waitTask(ctx context.Context, upid proxmox.UPID, op string) error {
	task := proxmox.NewTask(upid, c.pve)

	if err := task.WaitFor(ctx, int(c.callTimeout.Seconds())); err != nil {
		return classify(op, err)
	}

	if task.IsFailed {
		return classify(op, fmt.Errorf("task failed: %s", task.ExitStatus))
	}

	return nil
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ";")
	tags := make([]string, 0, len(parts))

	for _, p := range parts {
		if p != "" {
			tags = append(tags, p)
		}
	}

	return tags
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}

	return false
}
