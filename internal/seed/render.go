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
	"bytes"
	"fmt"
	"text/template"
)

var (
	userDataTemplate = template.Must(template.New("user-data").Parse(defaultUserData))
	metaDataTemplate = template.Must(template.New("meta-data").Parse(defaultMetaData))
)

// K3sConfig carries the join parameters read from the provider's
// configuration, unchanged across every VM in every group.
type K3sConfig struct {
	Version      string
	ServerURL    string
	Token        string
	SSHPublicKey string
}

type renderInput struct {
	Hostname     string
	GroupID      string
	VMID         int
	K3sVersion   string
	K3sServerURL string
	K3sToken     string
	SSHPublicKey string
}

// Render produces the meta-data and user-data documents for a VM. It
// is a pure function: the same (groupID, vmid, hostname, k3s) always
// renders byte-identical output, which is what lets the create
// pipeline re-enter this step after a transient failure without
// producing a different seed.
func Render(groupID string, vmid int, hostname string, k3s K3sConfig) (metaData, userData []byte, err error) {
	in := renderInput{
		Hostname:     hostname,
		GroupID:      groupID,
		VMID:         vmid,
		K3sVersion:   k3s.Version,
		K3sServerURL: k3s.ServerURL,
		K3sToken:     k3s.Token,
		SSHPublicKey: k3s.SSHPublicKey,
	}

	var metaBuf, userBuf bytes.Buffer

	if err := metaDataTemplate.Execute(&metaBuf, in); err != nil {
		return nil, nil, fmt.Errorf("rendering meta-data for vmid %d: %w", vmid, err)
	}

	if err := userDataTemplate.Execute(&userBuf, in); err != nil {
		return nil, nil, fmt.Errorf("rendering user-data for vmid %d: %w", vmid, err)
	}

	return metaBuf.Bytes(), userBuf.Bytes(), nil
}

// VolumeName is the deterministic ISO name the Reconciler and Proxmox
// Adapter agree on for vmid's seed volume.
func VolumeName(vmid int) string {
	return fmt.Sprintf("seed-%d.iso", vmid)
}
