// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/flywall/internal/netctrl"
)

// BootstrapConfig seeds a freshly constructed Registry at startup. It is
// the only place in this repository that knows an HCL syntax; the registry
// itself stays config-format-agnostic and only ever sees the typed calls
// Apply makes against it (§9 "Global state": a singleton is built once
// from this file and handed to every other subsystem).
type BootstrapConfig struct {
	SchemaVersion  string             `hcl:"schema_version"`
	DefaultNetwork uint16             `hcl:"default_network,optional"`
	Physical       []PhysicalNetwork  `hcl:"network,block"`
	Virtual        []VirtualNetwork   `hcl:"virtual_network,block"`
	UIDGrants      []UIDGrant         `hcl:"uid_grant,block"`
}

// PhysicalNetwork declares one Physical network and the interfaces it
// starts with. "none"/"network"/"system" mirror netctrl.Permission names.
type PhysicalNetwork struct {
	NetID      uint16   `hcl:"id,label"`
	Permission string   `hcl:"permission,optional"`
	Local      bool     `hcl:"local,optional"`
	Interfaces []string `hcl:"interfaces,optional"`
}

// VirtualNetwork declares one VPN network present at startup.
type VirtualNetwork struct {
	NetID              uint16 `hcl:"id,label"`
	Secure             bool   `hcl:"secure,optional"`
	VPNType            string `hcl:"vpn_type,optional"`
	ExcludeLocalRoutes bool   `hcl:"exclude_local_routes,optional"`
}

// UIDGrant assigns a permission to a batch of uids at startup.
type UIDGrant struct {
	UIDs       []uint32 `hcl:"uids"`
	Permission string   `hcl:"permission"`
}

// LoadBootstrapConfig decodes an HCL bootstrap file at path, the same way
// internal/config decodes the daemon's main configuration elsewhere in
// this codebase (hclsimple.DecodeFile against a typed struct).
func LoadBootstrapConfig(path string) (*BootstrapConfig, error) {
	var cfg BootstrapConfig
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("decode bootstrap config %s: %w", path, err)
	}
	return &cfg, nil
}

func parsePermission(s string) (netctrl.Permission, error) {
	switch s {
	case "", "none":
		return netctrl.PermissionNone, nil
	case "network":
		return netctrl.PermissionNetwork, nil
	case "system":
		return netctrl.PermissionSystem, nil
	default:
		return 0, fmt.Errorf("unknown permission %q", s)
	}
}

func parseVPNType(s string) (netctrl.VPNType, error) {
	switch s {
	case "", "service":
		return netctrl.VPNTypeService, nil
	case "platform":
		return netctrl.VPNTypePlatform, nil
	case "legacy":
		return netctrl.VPNTypeLegacy, nil
	case "oem":
		return netctrl.VPNTypeOEM, nil
	case "oem_legacy":
		return netctrl.VPNTypeOEMLegacy, nil
	default:
		return 0, fmt.Errorf("unknown vpn_type %q", s)
	}
}

// Apply seeds reg with every network, default selection and uid grant the
// bootstrap file declares, in the order a fresh daemon needs them: physical
// networks and their interfaces first, then the default selection (so a
// virtual network's fallthrough route setup at creation time sees the
// default's real interfaces), then virtuals, then uid permission grants.
func (c *BootstrapConfig) Apply(reg *netctrl.Registry) error {
	for _, p := range c.Physical {
		perm, err := parsePermission(p.Permission)
		if err != nil {
			return fmt.Errorf("network %d: %w", p.NetID, err)
		}
		if err := reg.CreatePhysicalNetwork(netctrl.NetID(p.NetID), perm, p.Local); err != nil {
			return fmt.Errorf("create physical network %d: %w", p.NetID, err)
		}
		for i, iface := range p.Interfaces {
			if err := reg.AddInterfaceToNetwork(netctrl.NetID(p.NetID), iface, i+1); err != nil {
				return fmt.Errorf("attach %s to network %d: %w", iface, p.NetID, err)
			}
		}
	}

	if c.DefaultNetwork != 0 {
		if err := reg.SetDefaultNetwork(netctrl.NetID(c.DefaultNetwork)); err != nil {
			return fmt.Errorf("set default network %d: %w", c.DefaultNetwork, err)
		}
	}

	for _, v := range c.Virtual {
		vt, err := parseVPNType(v.VPNType)
		if err != nil {
			return fmt.Errorf("virtual network %d: %w", v.NetID, err)
		}
		if err := reg.CreateVirtualNetwork(netctrl.NetID(v.NetID), v.Secure, vt, v.ExcludeLocalRoutes); err != nil {
			return fmt.Errorf("create virtual network %d: %w", v.NetID, err)
		}
	}

	for _, g := range c.UIDGrants {
		perm, err := parsePermission(g.Permission)
		if err != nil {
			return fmt.Errorf("uid_grant: %w", err)
		}
		reg.SetPermissionForUsers(perm, g.UIDs)
	}

	return nil
}
