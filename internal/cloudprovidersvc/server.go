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

// Package cloudprovidersvc is the A3 seam: the narrow Go interface the
// remote-call server adapts to the wire protocol. Its method set maps
// 1:1 to the nine node-group operations; the concrete gRPC transport
// and generated stubs are out of scope, so this package stops at the
// interface and a Code translation helper A3's hand-written glue would
// call into.
package cloudprovidersvc

import (
	"context"
	"errors"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/scaling"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

// Server is implemented by *scaling.Controller. Splitting it out as an
// interface lets A3 (and its tests) depend on a plain Go contract
// instead of the concrete controller.
type Server interface {
	NodeGroups(ctx context.Context) ([]types.Group, error)
	NodeGroupForNode(ctx context.Context, nodeName string) (string, error)
	NodeGroupTargetSize(ctx context.Context, groupID string) (int, error)
	NodeGroupIncreaseSize(ctx context.Context, groupID string, delta int) error
	NodeGroupDecreaseTargetSize(ctx context.Context, groupID string, delta int) error
	NodeGroupDeleteNodes(ctx context.Context, groupID string, nodeNames []string) error
	NodeGroupNodes(ctx context.Context, groupID string) ([]scaling.Node, error)
	Refresh(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

var _ Server = (*scaling.Controller)(nil)

// Code is the small status-code enum A3's glue maps a handler's error
// onto before writing the wire response. It intentionally mirrors the
// handful of outcomes the remote protocol distinguishes rather than a
// full gRPC codes.Code, since the generated stubs are out of scope.
type Code int

const (
	// CodeOK means the handler returned a nil error.
	CodeOK Code = iota
	// CodeNotFound means an unknown group id or node name.
	CodeNotFound
	// CodeOutOfRange means a size request outside bounds, or a
	// decrease that would drop below the live node count.
	CodeOutOfRange
	// CodeUnavailable means a transient failure the caller should retry.
	CodeUnavailable
	// CodeInternal is every other error.
	CodeInternal
)

// CodeFor classifies err into the wire status the A3 glue should
// return. A nil error is CodeOK.
func CodeFor(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, types.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, types.ErrOutOfRange):
		return CodeOutOfRange
	case errors.Is(err, types.ErrTransientProxmox), errors.Is(err, types.ErrTransientKube), errors.Is(err, types.ErrConcurrentUpdate):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
