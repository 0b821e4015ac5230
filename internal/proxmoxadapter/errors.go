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
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

// classify turns a raw error from the go-proxmox client into either
// types.ErrTransientProxmox or types.ErrPermanentProxmox, the only two
// kinds the Reconciler is allowed to see from this package.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, types.ErrTransientProxmox, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, types.ErrTransientProxmox, err)
	}

	if status, ok := httpStatus(err); ok {
		switch {
		case status == http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, types.ErrPermanentProxmox, err)
		case status == http.StatusLocked || status == http.StatusTooManyRequests || status >= 500:
			return fmt.Errorf("%s: %w: %w", op, types.ErrTransientProxmox, err)
		case status >= 400:
			return fmt.Errorf("%s: %w: %w", op, types.ErrPermanentProxmox, err)
		}
	}

	// Proxmox reports VM/task lock contention as a plain string; treat
	// it as transient, matching the adapter's retry-next-tick contract.
	if strings.Contains(strings.ToLower(err.Error()), "lock") {
		return fmt.Errorf("%s: %w: %w", op, types.ErrTransientProxmox, err)
	}

	return fmt.Errorf("%s: %w: %w", op, types.ErrTransientProxmox, err)
}

// httpStatus extracts a "bad request: NNN ..." style status code the
// way the upstream client formats request failures.
func httpStatus(err error) (int, bool) {
	msg := err.Error()

	idx := strings.Index(msg, ": ")
	if idx < 0 {
		return 0, false
	}

	fields := strings.Fields(msg[idx+2:])
	if len(fields) == 0 {
		return 0, false
	}

	status, convErr := strconv.Atoi(fields[0])
	if convErr != nil {
		return 0, false
	}

	return status, true
}

// isNotFound reports whether err represents an absent VM/volume, used
// by the idempotent destroy_* operations to treat "already gone" as success.
func isNotFound(err error) bool {
	status, ok := httpStatus(err)

	return ok && status == http.StatusNotFound
}
