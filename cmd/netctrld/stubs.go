// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

// The types below stand in for the sub-controllers and kernel-facing
// collaborators that spec.md §1 explicitly places out of scope: bandwidth/
// tether/idle-timer/strict/firewall sub-controllers, the route controller,
// and the transform (IPsec) controller. netctrld only needs to prove the
// core's startup sequence runs them in the right order; a real deployment
// replaces every one of these with the actual sub-controller package.

type noopSubControllerHooks struct{}

func (noopSubControllerHooks) InstallOEMHooks() error       { return nil }
func (noopSubControllerHooks) InstallFirewallHooks() error  { return nil }
func (noopSubControllerHooks) InstallTetherHooks() error    { return nil }
func (noopSubControllerHooks) InstallBandwidthHooks() error { return nil }
func (noopSubControllerHooks) InstallIdleTimerHooks() error { return nil }
func (noopSubControllerHooks) InstallStrictHooks() error    { return nil }

type noopBandwidthController struct{}

func (noopBandwidthController) EnableBandwidthControl() error { return nil }

type noopExternalRouteController struct{}

func (noopExternalRouteController) Init(uint16) error { return nil }

type noopTransformController struct{}

func (noopTransformController) Init() error { return nil }
