// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netctrl is the authoritative, thread-safe registry of logical
// networks, their interfaces, their per-user applicability, and the policy
// that maps (requesting uid, requested network id) to a routable fwmark.
package netctrl

// NetID identifies a logical network. It is an opaque unsigned 16-bit
// handle; zero (Unset) never names a real network.
type NetID uint16

// Reserved sentinel netIDs. These exist for the process lifetime and (for
// Local/Unreachable) cannot be destroyed.
const (
	Unset       NetID = 0
	LocalNetID  NetID = 99
	DummyNetID  NetID = 98
	Unreachable NetID = 97
)

// User-assignable netID ranges.
const (
	MinNetID    NetID = 100
	MaxNetID    NetID = 65535
	MinOEMNetID NetID = 900
	MaxOEMNetID NetID = 999
)

// FirstApplicationUID is the lowest uid considered a regular application;
// below it, a uid absent from the users map is treated as SYSTEM.
const FirstApplicationUID = 10000

// InvalidUID marks a caller whose peer credentials could not be resolved.
const InvalidUID = ^uint32(0)

// Permission is a set of independent capability bits. SYSTEM dominates
// NETWORK dominates NONE: a user satisfies a network's required permission
// iff (userBits & netBits) == netBits.
type Permission uint8

const (
	PermissionNone    Permission = 0
	PermissionNetwork Permission = 1 << 0
	PermissionSystem  Permission = 1 << 1
)

// Satisfies reports whether a user holding `user` permission bits meets the
// requirement expressed by `required`.
func (user Permission) Satisfies(required Permission) bool {
	return user&required == required
}

// VPNType enumerates how a Virtual network was provisioned.
type VPNType int

const (
	VPNTypeService VPNType = iota
	VPNTypePlatform
	VPNTypeLegacy
	VPNTypeOEM
	VPNTypeOEMLegacy
)

// SubPriority orders uid-range rules attached to a network: smaller wins.
type SubPriority int32

const (
	// SubPriorityHighest is the smallest (best) subPriority a real rule may use.
	SubPriorityHighest SubPriority = 0
	// SubPriorityLowest is the largest subPriority that still denotes a
	// default-nominating rule.
	SubPriorityLowest SubPriority = 999
	// SubPriorityNoDefault marks ranges that declare "this uid has no
	// default network" without themselves nominating one.
	SubPriorityNoDefault SubPriority = 1000
)
