// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netctrl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistrySeedsSingletons(t *testing.T) {
	r := New(Deps{})
	assert.Equal(t, Unset, r.GetDefaultNetwork())

	snaps, def := r.Snapshot()
	assert.Equal(t, Unset, def)
	byID := map[NetID]NetworkSnapshot{}
	for _, s := range snaps {
		byID[s.NetID] = s
	}
	require.Contains(t, byID, LocalNetID)
	require.Contains(t, byID, DummyNetID)
	require.Contains(t, byID, Unreachable)
	assert.Equal(t, VariantLocal, byID[LocalNetID].Variant)
	assert.Equal(t, VariantDummy, byID[DummyNetID].Variant)
	assert.Equal(t, VariantUnreachable, byID[Unreachable].Variant)
}

func TestCreatePhysicalNetworkValidatesRange(t *testing.T) {
	r := New(Deps{})
	err := r.CreatePhysicalNetwork(Unset, PermissionNone, false)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidArg, CodeOf(err))
}

func TestCreatePhysicalNetworkDuplicate(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))
	err := r.CreatePhysicalNetwork(100, PermissionNone, false)
	require.Error(t, err)
	assert.Equal(t, CodeDuplicate, CodeOf(err))
}

func TestCreatePhysicalOemNetworkExhaustion(t *testing.T) {
	r := New(Deps{})
	for id := MinOEMNetID; id <= MaxOEMNetID; id++ {
		_, err := r.CreatePhysicalOemNetwork(PermissionNone)
		require.NoError(t, err)
	}
	_, err := r.CreatePhysicalOemNetwork(PermissionNone)
	require.Error(t, err)
	assert.Equal(t, CodeExhausted, CodeOf(err))
}

// S1: default selection with no VPN present.
func TestDefaultSelectionNoVPN(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))
	require.NoError(t, r.SetDefaultNetwork(100))

	const uid = 10001
	assert.Equal(t, NetID(100), r.GetNetworkForConnect(uid))

	netID, mark, err := r.GetNetworkForDNS(Unset, uid)
	require.NoError(t, err)
	assert.Equal(t, NetID(100), netID)
	assert.True(t, mark.ExplicitlySelected)
}

// S2: secure VPN captures a uid unless it is protected.
func TestSecureVPNBlocksUnlessProtected(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))
	require.NoError(t, r.SetDefaultNetwork(100))
	require.NoError(t, r.CreateVirtualNetwork(200, true, VPNTypeService, false))
	require.NoError(t, r.AddUsersToNetwork(200, []UIDRange{{Start: 10000, End: 19999}}, 0))

	const uid = 10001

	err := r.CheckUserNetworkAccess(uid, 100)
	require.Error(t, err)
	assert.Equal(t, CodePermissionDenied, CodeOf(err))

	r.AllowProtect(uid, 100)
	assert.NoError(t, r.CheckUserNetworkAccess(uid, 100))
}

// A uid with no applicable range on the Unreachable network is denied with
// CodePermissionDenied, not CodeAccessDenied — the Unreachable and Virtual
// denial branches share the same cause (no applicable uid range) and must
// report the same error kind.
func TestUnreachableNetworkDeniesWithPermissionDenied(t *testing.T) {
	r := New(Deps{})
	const uid = 10001

	err := r.CheckUserNetworkAccess(uid, Unreachable)
	require.Error(t, err)
	assert.Equal(t, CodePermissionDenied, CodeOf(err))
}

// DNS for an unselected query falls back to the default network when the
// VPN applying to the uid has no nameservers configured yet.
func TestDNSFallsBackWhenVPNHasNoNameservers(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))
	require.NoError(t, r.SetDefaultNetwork(100))
	require.NoError(t, r.CreateVirtualNetwork(200, false, VPNTypeService, false))
	require.NoError(t, r.AddUsersToNetwork(200, []UIDRange{{Start: 10000, End: 19999}}, 0))

	const uid = 10001

	netID, mark, err := r.GetNetworkForDNS(Unset, uid)
	require.NoError(t, err)
	assert.Equal(t, NetID(100), netID)
	assert.False(t, mark.ExplicitlySelected)

	require.NoError(t, r.SetVPNHasNameservers(200, true))

	netID, mark, err = r.GetNetworkForDNS(Unset, uid)
	require.NoError(t, err)
	assert.Equal(t, NetID(200), netID)
	assert.True(t, mark.ExplicitlySelected)
}

// S5: VPN handover — removing an address from one interface does not force
// socket closure while another interface in the same Virtual network still
// carries it.
func TestVPNHandoverSuppressesForceClose(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.CreateVirtualNetwork(200, false, VPNTypeService, false))
	require.NoError(t, r.AddInterfaceToNetwork(200, "tun0", 10))
	require.NoError(t, r.AddInterfaceToNetwork(200, "tun1", 11))

	r.AddInterfaceAddress(10, "10.0.0.1")
	r.AddInterfaceAddress(11, "10.0.0.1")

	forceClose := r.RemoveInterfaceAddress(10, "10.0.0.1")
	assert.False(t, forceClose, "address still present on tun1 in the same VPN")

	forceClose = r.RemoveInterfaceAddress(11, "10.0.0.1")
	assert.True(t, forceClose, "last interface carrying the address")
}

// S6: OEM netId exhaustion is reported as CodeExhausted (covered above);
// this scenario additionally checks that freeing one id lets allocation
// resume.
func TestOemAllocationResumesAfterDestroy(t *testing.T) {
	r := New(Deps{})
	first, err := r.CreatePhysicalOemNetwork(PermissionNone)
	require.NoError(t, err)
	require.NoError(t, r.DestroyNetwork(first))

	second, err := r.CreatePhysicalOemNetwork(PermissionNone)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// Property 1: interface exclusivity — an interface cannot belong to two
// networks at once.
func TestInterfaceExclusivityAcrossNetworks(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))
	require.NoError(t, r.CreatePhysicalNetwork(101, PermissionNone, false))
	require.NoError(t, r.AddInterfaceToNetwork(100, "eth0", 5))

	err := r.AddInterfaceToNetwork(101, "eth0", 5)
	require.Error(t, err)
	assert.Equal(t, CodeBusy, CodeOf(err))
}

func TestDestroyNetworkForbidsSingletons(t *testing.T) {
	r := New(Deps{})
	assert.Error(t, r.DestroyNetwork(LocalNetID))
	assert.Error(t, r.DestroyNetwork(Unreachable))
}

func TestDestroyNetworkClearsDefault(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))
	require.NoError(t, r.SetDefaultNetwork(100))
	require.NoError(t, r.DestroyNetwork(100))
	assert.Equal(t, Unset, r.GetDefaultNetwork())
}

func TestSetDefaultNetworkRejectsNonPhysical(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.CreateVirtualNetwork(200, false, VPNTypeService, false))
	err := r.SetDefaultNetwork(200)
	require.Error(t, err)
	assert.Equal(t, CodeWrongVariant, CodeOf(err))
}

func TestAllowlistAppliedAtomically(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))

	err := r.SetNetworkAllowlist([]AllowlistEntry{
		{NetID: 100, Ranges: []UIDRange{{Start: 1, End: 10}}},
		{NetID: 999, Ranges: []UIDRange{{Start: 1, End: 10}}},
	})
	require.Error(t, err)
	assert.Equal(t, CodeNoNetwork, CodeOf(err))
	assert.True(t, r.IsUidAllowed(100, 20000), "allowlist must remain untouched on validation failure")

	require.NoError(t, r.SetNetworkAllowlist([]AllowlistEntry{
		{NetID: 100, Ranges: []UIDRange{{Start: 1, End: 10}}},
	}))
	assert.True(t, r.IsUidAllowed(100, 5))
	assert.False(t, r.IsUidAllowed(100, 20000))
}

func TestAppNetworkPriorityOverridesGlobalDefault(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))
	require.NoError(t, r.CreatePhysicalNetwork(101, PermissionNone, false))
	require.NoError(t, r.SetDefaultNetwork(100))
	require.NoError(t, r.AddUsersToNetwork(101, []UIDRange{{Start: 10000, End: 10000}}, 5))

	assert.Equal(t, NetID(101), r.GetNetworkForConnect(10000))
	assert.Equal(t, NetID(100), r.GetNetworkForConnect(10001))
}

func TestCanProtectGrantsAnyNetworkWithUnsetKey(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))
	const uid = 10001
	assert.False(t, r.CanProtect(uid, 100))
	r.AllowProtect(uid, Unset)
	assert.True(t, r.CanProtect(uid, 100))
}

// recordingRouteController records the table type each call resolved to,
// the same style as recordingTrafficControl in netlink_test.go.
type recordingRouteController struct {
	noopRouteController
	lastTable RouteTableType
}

func (rc *recordingRouteController) AddRoute(table RouteTableType, iface, destination, nexthop string) error {
	rc.lastTable = table
	return nil
}

func (rc *recordingRouteController) UpdateRoute(table RouteTableType, iface, destination, nexthop string) error {
	rc.lastTable = table
	return nil
}

func (rc *recordingRouteController) RemoveRoute(table RouteTableType, iface, destination, nexthop string) error {
	rc.lastTable = table
	return nil
}

func TestRouteTableForLocalNetwork(t *testing.T) {
	rc := &recordingRouteController{}
	r := New(Deps{Routes: rc})
	require.NoError(t, r.AddInterfaceToNetwork(LocalNetID, "lo", 1))

	require.NoError(t, r.AddRoute(LocalNetID, "lo", "127.0.0.0/8", "", true, 0))
	assert.Equal(t, RouteTableLocal, rc.lastTable)
}

// A SYSTEM-permission uid requesting a legacy route on a non-default
// physical network gets LEGACY_SYSTEM, not LEGACY_NETWORK: the legacy
// split is keyed on the caller's permission, not on which network happens
// to be the default.
func TestRouteTableForLegacySystemUidOnNonDefaultNetwork(t *testing.T) {
	rc := &recordingRouteController{}
	r := New(Deps{Routes: rc})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))
	require.NoError(t, r.CreatePhysicalNetwork(101, PermissionNone, false))
	require.NoError(t, r.SetDefaultNetwork(100))
	require.NoError(t, r.AddInterfaceToNetwork(101, "eth1", 2))

	const systemUID = 1000 // below FirstApplicationUID, resolves to PermissionSystem
	require.NoError(t, r.AddRoute(101, "eth1", "10.0.0.0/24", "10.0.0.1", true, systemUID))
	assert.Equal(t, RouteTableLegacySystem, rc.lastTable)
}

func TestRouteTableForLegacyNonSystemUidUsesLegacyNetwork(t *testing.T) {
	rc := &recordingRouteController{}
	r := New(Deps{Routes: rc})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))
	require.NoError(t, r.AddInterfaceToNetwork(100, "eth0", 1))

	const appUID = 10001
	require.NoError(t, r.UpdateRoute(100, "eth0", "10.0.0.0/24", "10.0.0.1", true, appUID))
	assert.Equal(t, RouteTableLegacyNetwork, rc.lastTable)
}

// Non-legacy routing always resolves to the per-network INTERFACE table,
// including for the default physical network.
func TestRouteTableForNonLegacyUsesInterfaceTable(t *testing.T) {
	rc := &recordingRouteController{}
	r := New(Deps{Routes: rc})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))
	require.NoError(t, r.SetDefaultNetwork(100))
	require.NoError(t, r.AddInterfaceToNetwork(100, "eth0", 1))

	require.NoError(t, r.RemoveRoute(100, "eth0", "10.0.0.0/24", "10.0.0.1", false, 10001))
	assert.Equal(t, RouteTableInterface, rc.lastTable)
}

// A Virtual network can still route into LEGACY_* when the legacy flag is
// set — the original mechanism keys the split on legacy/uid alone, not on
// network variant.
func TestRouteTableForVirtualNetworkHonorsLegacyFlag(t *testing.T) {
	rc := &recordingRouteController{}
	r := New(Deps{Routes: rc})
	require.NoError(t, r.CreateVirtualNetwork(200, false, VPNTypeService, false))
	require.NoError(t, r.AddInterfaceToNetwork(200, "tun0", 3))

	const systemUID = 1000
	require.NoError(t, r.AddRoute(200, "tun0", "0.0.0.0/0", "", true, systemUID))
	assert.Equal(t, RouteTableLegacySystem, rc.lastTable)
}

func TestAddRouteRejectsUnboundInterface(t *testing.T) {
	r := New(Deps{})
	require.NoError(t, r.CreatePhysicalNetwork(100, PermissionNone, false))

	err := r.AddRoute(100, "eth0", "10.0.0.0/24", "10.0.0.1", false, 10001)
	require.Error(t, err)
	assert.Equal(t, CodeNoInterface, CodeOf(err))
}
