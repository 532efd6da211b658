// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command netctrld is the per-device network management daemon core: it
// wires the chain topology manager, the network controller registry, and
// the fixed startup sequence together. The RPC/IPC listeners, netlink
// event ingestion and DNS resolver that would normally sit in front of
// this core are external collaborators out of scope here (§1); this
// binary only proves the core boots and seeds itself from a bootstrap
// file the way a real daemon would.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/google/nftables"

	"grimm.is/flywall/internal/fwchain"
	"grimm.is/flywall/internal/initseq"
	"grimm.is/flywall/internal/logging"
	"grimm.is/flywall/internal/netctrl"
)

func main() {
	configPath := flag.String("config", "/etc/flywall/netctrld.hcl", "path to the bootstrap HCL config")
	tableName := flag.String("table", "flywall", "nftables table name the core materializes its chains in")
	flag.Parse()

	log := logging.New(os.Stderr, slog.LevelInfo)

	reg := netctrl.New(netctrl.Deps{Log: log})

	if *configPath != "" {
		cfg, err := LoadBootstrapConfig(*configPath)
		if err != nil {
			log.Error("failed to load bootstrap config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		if err := cfg.Apply(reg); err != nil {
			log.Error("failed to apply bootstrap config", "error", err)
			os.Exit(1)
		}
	}

	conn, err := nftables.New()
	if err != nil {
		log.Error("failed to open nftables connection", "error", err)
		os.Exit(1)
	}

	chains := fwchain.NewManager(conn, *tableName, log)

	initseq.Run(initseq.Deps{
		Chains:     chains,
		AddressFam: fwchain.V4V6,
		SubHooks:   noopSubControllerHooks{},
		Bandwidth:  noopBandwidthController{},
		Routes:     noopExternalRouteController{},
		Transform:  noopTransformController{},
		LocalNetID: uint16(netctrl.LocalNetID),
		Log:        log,
	})

	log.Info("netctrld startup sequence complete")
}
