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

package seed_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/seed"
)

func testK3sConfig() seed.K3sConfig {
	return seed.K3sConfig{
		Version:      "v1.30.5+k3s1",
		ServerURL:    "https://k3s.example.internal:6443",
		Token:        "s3cr3t-token",
		SSHPublicKey: "ssh-ed25519 AAAAexample operator@laptop",
	}
}

func TestRenderIncludesJoinParametersAndLabels(t *testing.T) {
	assert := assert.New(t)

	_, userData, err := seed.Render("web", 101, "web-101", testK3sConfig())
	require.NoError(t, err)

	body := string(userData)
	assert.Contains(body, "INSTALL_K3S_VERSION=v1.30.5+k3s1")
	assert.Contains(body, "K3S_URL=https://k3s.example.internal:6443")
	assert.Contains(body, "K3S_TOKEN=s3cr3t-token")
	assert.Contains(body, "autoscaler.proxmox/group=web")
	assert.Contains(body, "autoscaler.proxmox/vmid=101")
	assert.Contains(body, "ssh-ed25519 AAAAexample operator@laptop")
}

func TestRenderIsDeterministic(t *testing.T) {
	assert := assert.New(t)
	cfg := testK3sConfig()

	meta1, user1, err := seed.Render("db", 7, "db-7", cfg)
	require.NoError(t, err)

	meta2, user2, err := seed.Render("db", 7, "db-7", cfg)
	require.NoError(t, err)

	assert.Equal(meta1, meta2)
	assert.Equal(user1, user2)
}

func TestRenderMetaDataCarriesHostnameAndInstanceID(t *testing.T) {
	assert := assert.New(t)

	metaData, _, err := seed.Render("web", 202, "web-202", testK3sConfig())
	require.NoError(t, err)

	assert.True(strings.Contains(string(metaData), "instance-id: 202"))
	assert.True(strings.Contains(string(metaData), "local-hostname: web-202"))
}

func TestVolumeNameIsDeterministic(t *testing.T) {
	assert.Equal(t, "seed-101.iso", seed.VolumeName(101))
}
