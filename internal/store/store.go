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

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/types"
)

const timeLayout = time.RFC3339Nano

// GetDesired returns the desired size for groupID, inserting a row at
// defaultDesired if this is the first time the group has been observed.
func (s *Store) GetDesired(ctx context.Context, groupID string, defaultDesired int) (int, error) {
	var desired int

	err := s.db.QueryRowContext(ctx, `SELECT desired FROM group_desired WHERE group_id = ?`, groupID).Scan(&desired)
	switch {
	case err == nil:
		return desired, nil
	case err == sql.ErrNoRows:
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO group_desired (group_id, desired) VALUES (?, ?)
			 ON CONFLICT(group_id) DO NOTHING`, groupID, defaultDesired); err != nil {
			return 0, fmt.Errorf("initialize desired size for group %s: %w", groupID, err)
		}

		return s.GetDesired(ctx, groupID, defaultDesired)
	default:
		return 0, fmt.Errorf("read desired size for group %s: %w", groupID, err)
	}
}

// CASDesired atomically sets groupID's desired size to next, provided
// the currently stored value equals expected. Returns
// types.ErrConcurrentUpdate if it does not.
func (s *Store) CASDesired(ctx context.Context, groupID string, expected, next int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE group_desired SET desired = ? WHERE group_id = ? AND desired = ?`,
		next, groupID, expected)
	if err != nil {
		return fmt.Errorf("update desired size for group %s: %w", groupID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected for group %s: %w", groupID, err)
	}

	if rows == 0 {
		return fmt.Errorf("group %s desired size changed concurrently: %w", groupID, types.ErrConcurrentUpdate)
	}

	return nil
}

// ListVMs returns every VM row belonging to groupID.
func (s *Store) ListVMs(ctx context.Context, groupID string) ([]types.VM, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vmid, group_id, hostname, state, created_at, last_transition_at, last_error
		 FROM vms WHERE group_id = ? ORDER BY vmid`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list vms for group %s: %w", groupID, err)
	}
	defer rows.Close()

	return scanVMs(rows)
}

// ListAllVMs returns every VM row across all groups.
func (s *Store) ListAllVMs(ctx context.Context) ([]types.VM, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vmid, group_id, hostname, state, created_at, last_transition_at, last_error
		 FROM vms ORDER BY vmid`)
	if err != nil {
		return nil, fmt.Errorf("list all vms: %w", err)
	}
	defer rows.Close()

	return scanVMs(rows)
}

func scanVMs(rows *sql.Rows) ([]types.VM, error) {
	var out []types.VM

	for rows.Next() {
		var (
			vm                           types.VM
			createdAt, lastTransitionAt  string
		)

		if err := rows.Scan(&vm.VMID, &vm.GroupID, &vm.Hostname, &vm.State, &createdAt, &lastTransitionAt, &vm.LastError); err != nil {
			return nil, fmt.Errorf("scan vm row: %w", err)
		}

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for vm %d: %w", vm.VMID, err)
		}

		vm.CreatedAt = t

		t, err = time.Parse(timeLayout, lastTransitionAt)
		if err != nil {
			return nil, fmt.Errorf("parse last_transition_at for vm %d: %w", vm.VMID, err)
		}

		vm.LastTransitionAt = t

		out = append(out, vm)
	}

	return out, rows.Err()
}

// InsertPending inserts a new VM row in types.StatePending. The caller
// (the Reconciler) is the only code path allowed to create rows.
func (s *Store) InsertPending(ctx context.Context, vmid int, groupID, hostname string, now time.Time) error {
	return s.insertVM(ctx, vmid, groupID, hostname, types.StatePending, now)
}

// InsertActive inserts a new VM row directly in types.StateActive, for
// a healthy, running orphan Proxmox VM the Reconciler is adopting: it
// skips the pending/promotion dance since it is already observed
// running and tagged for this group.
func (s *Store) InsertActive(ctx context.Context, vmid int, groupID, hostname string, now time.Time) error {
	return s.insertVM(ctx, vmid, groupID, hostname, types.StateActive, now)
}

// InsertDeleting inserts a new VM row directly in
// types.StateDeletingVM, for an orphaned Proxmox VM the Reconciler has
// decided to tear down rather than adopt (it was not seen running).
func (s *Store) InsertDeleting(ctx context.Context, vmid int, groupID, hostname string, now time.Time) error {
	return s.insertVM(ctx, vmid, groupID, hostname, types.StateDeletingVM, now)
}

func (s *Store) insertVM(ctx context.Context, vmid int, groupID, hostname string, state types.VMState, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vms (vmid, group_id, hostname, state, created_at, last_transition_at, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, '')`,
		vmid, groupID, hostname, state, now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert vm %d in state %s: %w", vmid, state, err)
	}

	return nil
}

// CASState atomically transitions vmid from `from` to `to`, provided
// the currently stored state equals `from`. Returns types.ErrStaleState
// if it does not. lastError is recorded verbatim (empty clears it).
func (s *Store) CASState(ctx context.Context, vmid int, from, to types.VMState, lastError string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vms SET state = ?, last_transition_at = ?, last_error = ?
		 WHERE vmid = ? AND state = ?`,
		to, now.Format(timeLayout), lastError, vmid, from)
	if err != nil {
		return fmt.Errorf("transition vm %d from %s to %s: %w", vmid, from, to, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected for vm %d: %w", vmid, err)
	}

	if rows == 0 {
		return fmt.Errorf("vm %d is not in expected state %s: %w", vmid, from, types.ErrStaleState)
	}

	return nil
}

// DeleteVM removes a VM row. Only valid from types.StateDeletingNode,
// the terminal side of the lifecycle.
func (s *Store) DeleteVM(ctx context.Context, vmid int, from types.VMState) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vms WHERE vmid = ? AND state = ?`, vmid, from)
	if err != nil {
		return fmt.Errorf("delete vm %d: %w", vmid, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected deleting vm %d: %w", vmid, err)
	}

	if rows == 0 {
		return fmt.Errorf("vm %d is not in expected state %s: %w", vmid, from, types.ErrStaleState)
	}

	return nil
}

// GetVM returns a single VM row by id.
func (s *Store) GetVM(ctx context.Context, vmid int) (types.VM, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vmid, group_id, hostname, state, created_at, last_transition_at, last_error
		 FROM vms WHERE vmid = ?`, vmid)
	if err != nil {
		return types.VM{}, false, fmt.Errorf("get vm %d: %w", vmid, err)
	}
	defer rows.Close()

	vms, err := scanVMs(rows)
	if err != nil {
		return types.VM{}, false, err
	}

	if len(vms) == 0 {
		return types.VM{}, false, nil
	}

	return vms[0], true, nil
}
