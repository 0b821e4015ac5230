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

package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/luthermonson/go-proxmox"
)

// Uploader materialises a rendered seed as an ISO volume on a
// configured Proxmox node's ISO storage.
type Uploader struct {
	pve     *proxmox.Client
	node    string
	storage string
}

// NewUploader builds an Uploader against the given node and ISO storage.
func NewUploader(pve *proxmox.Client, node, storage string) *Uploader {
	return &Uploader{pve: pve, node: node, storage: storage}
}

// Upload builds the ISO for vmid and uploads it to storage as
// VolumeName(vmid), returning the Proxmox volume id the Proxmox
// Adapter's attach_iso/destroy_iso operations use. It is idempotent:
// if the volume already exists, Upload leaves it untouched rather than
// re-uploading byte-identical content.
func (u *Uploader) Upload(ctx context.Context, vmid int, metaData, userData []byte) (string, error) {
	name := VolumeName(vmid)
	volid := fmt.Sprintf("%s:iso/%s", u.storage, name)

	node, err := u.pve.Node(ctx, u.node)
	if err != nil {
		return "", fmt.Errorf("uploading seed for vmid %d: %w", vmid, err)
	}

	content, err := node.StorageContent(ctx, u.storage)
	if err != nil {
		return "", fmt.Errorf("listing storage content for vmid %d seed: %w", vmid, err)
	}

	for _, c := range content {
		if c.Volid == volid {
			return volid, nil
		}
	}

	iso, err := BuildISO(vmid, metaData, userData)
	if err != nil {
		return "", fmt.Errorf("building seed iso for vmid %d: %w", vmid, err)
	}

	defer func() {
		iso.Close()
		os.RemoveAll(filepath.Dir(iso.Name()))
	}()

	storage, err := node.Storage(ctx, u.storage)
	if err != nil {
		return "", fmt.Errorf("uploading seed for vmid %d: %w", vmid, err)
	}

	task, err := storage.Upload("iso", iso.Name())
	if err != nil {
		return "", fmt.Errorf("uploading seed iso for vmid %d: %w", vmid, err)
	}

	if err := task.WaitFor(ctx, 60); err != nil {
		return "", fmt.Errorf("waiting for seed iso upload of vmid %d: %w", vmid, err)
	}

	return volid, nil
}
