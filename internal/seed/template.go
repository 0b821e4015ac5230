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

// Package seed is the C3 Seed Builder: a pure function from a group,
// vmid and hostname to the two cloud-init files a freshly created VM
// needs to join the k3s cluster unattended, plus the code that
// materialises them as an ISO9660 volume on Proxmox storage.
package seed

const defaultUserData = `#cloud-config
hostname: {{ .Hostname }}
manage_etc_hosts: true
package_update: true

write_files:
  - path: /usr/local/bin/k3s-install.sh
    permissions: '0755'
    content: |
      #!/bin/sh
      set -e
      curl -sfL https://get.k3s.io | \
        INSTALL_K3S_VERSION={{ .K3sVersion }} \
        K3S_URL={{ .K3sServerURL }} \
        K3S_TOKEN={{ .K3sToken }} \
        sh -s - agent \
        --node-label autoscaler.proxmox/group={{ .GroupID }} \
        --node-label autoscaler.proxmox/vmid={{ .VMID }}

runcmd:
  - [ systemctl, enable, --now, qemu-guest-agent.service ]
  - [ /usr/local/bin/k3s-install.sh ]

users:
  - name: k3s
    gecos: k3s autoscaler managed node
    sudo: ALL=(ALL) NOPASSWD:ALL
    groups: [users]
    shell: /bin/bash
    ssh_authorized_keys:
      - {{ .SSHPublicKey }}
`

const defaultMetaData = `instance-id: {{ .VMID }}
local-hostname: {{ .Hostname }}
`
