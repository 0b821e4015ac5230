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

package cloudprovidersvc_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/cloudprovidersvc"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

func TestCodeForClassifiesErrorKinds(t *testing.T) {
	assert := assert.New(t)

	cases := []struct {
		name string
		err  error
		want cloudprovidersvc.Code
	}{
		{"nil", nil, cloudprovidersvc.CodeOK},
		{"not found", fmt.Errorf("group x: %w", types.ErrNotFound), cloudprovidersvc.CodeNotFound},
		{"out of range", fmt.Errorf("bad size: %w", types.ErrOutOfRange), cloudprovidersvc.CodeOutOfRange},
		{"transient proxmox", fmt.Errorf("timeout: %w", types.ErrTransientProxmox), cloudprovidersvc.CodeUnavailable},
		{"transient kube", fmt.Errorf("timeout: %w", types.ErrTransientKube), cloudprovidersvc.CodeUnavailable},
		{"concurrent update", fmt.Errorf("raced: %w", types.ErrConcurrentUpdate), cloudprovidersvc.CodeUnavailable},
		{"unclassified", fmt.Errorf("boom"), cloudprovidersvc.CodeInternal},
	}

	for _, tc := range cases {
		assert.Equal(tc.want, cloudprovidersvc.CodeFor(tc.err), tc.name)
	}
}
