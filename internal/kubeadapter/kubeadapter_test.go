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

package kubeadapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/kubeadapter"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

func nodeWithLabels(name, group, vmid string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				kubeadapter.LabelGroup: group,
				kubeadapter.LabelVMID:  vmid,
			},
		},
	}
}

func TestResolveReadsBothLabels(t *testing.T) {
	assert := assert.New(t)
	kube := fake.NewSimpleClientset(nodeWithLabels("web-101", "web", "101"))
	a := kubeadapter.New(kube, 10*time.Second)

	res, err := a.Resolve(context.Background(), "web-101")
	assert.NoError(err)
	assert.Equal("web", res.GroupID)
	assert.Equal(101, res.VMID)
}

func TestResolveMissingNodeIsNotFound(t *testing.T) {
	assert := assert.New(t)
	kube := fake.NewSimpleClientset()
	a := kubeadapter.New(kube, 10*time.Second)

	_, err := a.Resolve(context.Background(), "ghost")
	assert.ErrorIs(err, types.ErrNotFound)
}

func TestResolveNodeMissingLabelsIsNotFound(t *testing.T) {
	assert := assert.New(t)
	kube := fake.NewSimpleClientset(&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "bare"}})
	a := kubeadapter.New(kube, 10*time.Second)

	_, err := a.Resolve(context.Background(), "bare")
	assert.ErrorIs(err, types.ErrNotFound)
}

func TestResolveCachesWithinTTL(t *testing.T) {
	assert := assert.New(t)
	kube := fake.NewSimpleClientset(nodeWithLabels("db-7", "db", "7"))
	a := kubeadapter.New(kube, time.Minute)

	_, err := a.Resolve(context.Background(), "db-7")
	assert.NoError(err)

	// Deleting the node after the first resolve must not affect the
	// cached result within the TTL window.
	assert.NoError(kube.CoreV1().Nodes().Delete(context.Background(), "db-7", metav1.DeleteOptions{}))

	res, err := a.Resolve(context.Background(), "db-7")
	assert.NoError(err)
	assert.Equal("db", res.GroupID)
}
