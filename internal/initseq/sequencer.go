// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package initseq runs the daemon's fixed startup order: chain topology,
// then every sub-controller's own hook installation, then the connmark
// hooks, then bandwidth/route/transform controller bring-up. Every step is
// measured and logged; any failure is fatal to the process, and the exit
// code tells an operator (or the mainline-update rollback logic) which
// step failed (§4.7).
package initseq

import (
	"fmt"
	"os"
	"time"

	"grimm.is/flywall/internal/fwchain"
	"grimm.is/flywall/internal/logging"
)

// SubControllerHooks installs the rules each opaque sub-controller owns
// inside its own child chains, in the fixed order the daemon has always
// used: OEM, firewall, tether, bandwidth, idle-timer, strict. The core
// never looks inside these chains; it only guarantees they exist before
// these calls run (Manager.Install having already completed).
type SubControllerHooks interface {
	InstallOEMHooks() error
	InstallFirewallHooks() error
	InstallTetherHooks() error
	InstallBandwidthHooks() error
	InstallIdleTimerHooks() error
	InstallStrictHooks() error
}

// BandwidthController is enabled after every hook is in place; failure here
// is non-optional (accounting must work) and exits the process with code 1
// so a mainline update watching for this crash can trigger rollback.
type BandwidthController interface {
	EnableBandwidthControl() error
}

// RouteController is initialized with the local netId once hooks and
// bandwidth control are up; failure exits with code 2.
type RouteController interface {
	Init(localNetID uint16) error
}

// TransformController brings up IPsec policy/state handling; failure exits
// with code 3.
type TransformController interface {
	Init() error
}

// Deps bundles every collaborator the sequencer drives, in the order
// Run invokes them.
type Deps struct {
	Chains      *fwchain.Manager
	AddressFam  fwchain.AddressFamily
	SubHooks    SubControllerHooks
	Bandwidth   BandwidthController
	Routes      RouteController
	Transform   TransformController
	LocalNetID  uint16
	Log         *logging.Logger
}

// step names a unit of startup work and the exit code used if it fails
// (chain/hook installation steps have no dedicated code in spec.md §4.7,
// so they carry 0 and a failure there exits with code 1 — only steps 4-6
// name explicit codes).
type step struct {
	name string
	run  func(Deps) error
	// exitCode is 0 for steps whose failure is reported as an error with
	// no process-distinguishing exit code of its own.
	exitCode int
}

var steps = []step{
	{name: "chain_topology", run: installChainTopology, exitCode: 0},
	{name: "oem_hooks", run: func(d Deps) error { return d.SubHooks.InstallOEMHooks() }, exitCode: 0},
	{name: "firewall_hooks", run: func(d Deps) error { return d.SubHooks.InstallFirewallHooks() }, exitCode: 0},
	{name: "tether_hooks", run: func(d Deps) error { return d.SubHooks.InstallTetherHooks() }, exitCode: 0},
	{name: "bandwidth_hooks", run: func(d Deps) error { return d.SubHooks.InstallBandwidthHooks() }, exitCode: 0},
	{name: "idletimer_hooks", run: func(d Deps) error { return d.SubHooks.InstallIdleTimerHooks() }, exitCode: 0},
	{name: "strict_hooks", run: func(d Deps) error { return d.SubHooks.InstallStrictHooks() }, exitCode: 0},
	{name: "connmark_hooks", run: installConnmarkHooks, exitCode: 0},
	{name: "bandwidth_enable", run: func(d Deps) error { return d.Bandwidth.EnableBandwidthControl() }, exitCode: 1},
	{name: "route_init", run: func(d Deps) error { return d.Routes.Init(d.LocalNetID) }, exitCode: 2},
	{name: "transform_init", run: func(d Deps) error { return d.Transform.Init() }, exitCode: 3},
}

func installChainTopology(d Deps) error { return d.Chains.Install(d.AddressFam) }
func installConnmarkHooks(d Deps) error { return d.Chains.InstallConnmarkHooks(d.AddressFam) }

// Run executes every step in the fixed order, logging elapsed time for
// each. A step that returns an error is fatal: Run logs it and calls
// os.Exit with the step's distinguishing code (0 meaning "no dedicated
// code", reported as exit(1) so the process still dies rather than
// continuing in an unknown state).
func Run(d Deps) {
	if d.Log == nil {
		d.Log = logging.Default()
	}

	for _, s := range steps {
		start := time.Now()
		err := s.run(d)
		elapsed := time.Since(start)

		if err != nil {
			code := s.exitCode
			if code == 0 {
				code = 1
			}
			d.Log.Error("startup step failed, exiting",
				"step", s.name, "elapsed", elapsed, "exitCode", code, "error", err)
			os.Exit(code)
		}

		d.Log.Info("startup step complete", "step", s.name, "elapsed", elapsed)
	}
}

// RunWithError is Run's testable counterpart: instead of exiting the
// process it returns the first failing step's name, code and error so
// tests can assert on ordering and fatality without killing the test
// binary.
func RunWithError(d Deps) (failedStep string, exitCode int, err error) {
	if d.Log == nil {
		d.Log = logging.Default()
	}
	for _, s := range steps {
		if e := s.run(d); e != nil {
			code := s.exitCode
			if code == 0 {
				code = 1
			}
			return s.name, code, fmt.Errorf("%s: %w", s.name, e)
		}
	}
	return "", 0, nil
}
