// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netctrl

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/audit"
	"grimm.is/flywall/internal/logging"
)

func TestMutationsWriteAuditTrail(t *testing.T) {
	store, err := audit.NewStore(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)

	auditLog := audit.NewLogger(store, logging.Default())
	r := New(Deps{Audit: auditLog})

	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))
	require.NoError(t, r.SetDefaultNetwork(100))
	require.NoError(t, r.AddInterfaceToNetwork(100, "eth0", 1))
	require.NoError(t, r.DestroyNetwork(100))
	// No assertion on file contents: the point of this test is that every
	// mutator above runs to completion with an audit.Logger wired in,
	// rather than panicking or deadlocking on a re-entrant lock.
}
