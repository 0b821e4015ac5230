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
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/diskfs/go-diskfs/filesystem/iso9660"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/seed"
)

func TestBuildISOContainsNoCloudFiles(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	metaData, userData, err := seed.Render("web", 101, "web-101", testK3sConfig())
	require.NoError(err)

	f, err := seed.BuildISO(101, metaData, userData)
	require.NoError(err)

	defer func() {
		f.Close()
		os.RemoveAll(filepath.Dir(f.Name()))
	}()

	assert.Equal(seed.VolumeName(101), filepath.Base(f.Name()), "local file basename must match the uploaded volume name")

	info, err := f.Stat()
	require.NoError(err)
	assert.Greater(info.Size(), int64(0))

	fs, err := iso9660.Read(f, info.Size(), 0, 2048)
	require.NoError(err)

	root, err := fs.OpenFile("/user-data", os.O_RDONLY)
	require.NoError(err)

	got, err := io.ReadAll(root)
	require.NoError(err)
	assert.Equal(userData, got)
}

func TestBuildISOIsIdempotentPerVMID(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	metaData, userData, err := seed.Render("web", 202, "web-202", testK3sConfig())
	require.NoError(err)

	f1, err := seed.BuildISO(202, metaData, userData)
	require.NoError(err)
	defer func() { f1.Close(); os.RemoveAll(filepath.Dir(f1.Name())) }()

	f2, err := seed.BuildISO(202, metaData, userData)
	require.NoError(err)
	defer func() { f2.Close(); os.RemoveAll(filepath.Dir(f2.Name())) }()

	b1, err := io.ReadAll(f1)
	require.NoError(err)
	b2, err := io.ReadAll(f2)
	require.NoError(err)

	assert.Equal(b1, b2)
}
