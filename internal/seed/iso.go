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
	"fmt"
	"os"
	"path/filepath"

	"github.com/diskfs/go-diskfs/filesystem/iso9660"
)

const isoBlockSize = 2048

// noCloudLabel is the volume label cloud-init's NoCloud datasource
// looks for on an attached block device.
const noCloudLabel = "cidata"

// BuildISO writes metaData and userData into a NoCloud-layout ISO9660
// image at a local file named VolumeName(vmid) and returns it open for
// reading. The caller is responsible for closing and removing it (and
// its parent directory). Re-running with the same bytes produces a
// byte-identical image, since content and directory layout are the
// image's only inputs; the file's basename must match VolumeName(vmid)
// so that storage.Upload preserves the volume name the Uploader
// returns as volid.
func BuildISO(vmid int, metaData, userData []byte) (*os.File, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("ca-proxmox-seed-%d-*", vmid))
	if err != nil {
		return nil, fmt.Errorf("creating temp dir for vmid %d seed iso: %w", vmid, err)
	}

	f, err := os.Create(filepath.Join(dir, VolumeName(vmid)))
	if err != nil {
		os.RemoveAll(dir)

		return nil, fmt.Errorf("creating temp file for vmid %d seed iso: %w", vmid, err)
	}

	if err := writeISO(f, metaData, userData); err != nil {
		f.Close()
		os.RemoveAll(dir)

		return nil, err
	}

	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		os.RemoveAll(dir)

		return nil, fmt.Errorf("rewinding seed iso for vmid %d: %w", vmid, err)
	}

	return f, nil
}

func writeISO(f *os.File, metaData, userData []byte) error {
	fs, err := iso9660.Create(f, 0, 0, isoBlockSize, "")
	if err != nil {
		return fmt.Errorf("creating iso9660 filesystem: %w", err)
	}

	files := []struct {
		name    string
		content []byte
	}{
		{"/meta-data", metaData},
		{"/user-data", userData},
	}

	for _, file := range files {
		rw, err := fs.OpenFile(file.name, os.O_CREATE|os.O_RDWR)
		if err != nil {
			return fmt.Errorf("creating %s in seed iso: %w", file.name, err)
		}

		if _, err := rw.Write(file.content); err != nil {
			return fmt.Errorf("writing %s in seed iso: %w", file.name, err)
		}
	}

	if err := fs.Finalize(iso9660.FinalizeOptions{VolumeIdentifier: noCloudLabel}); err != nil {
		return fmt.Errorf("finalizing seed iso: %w", err)
	}

	return nil
}
