// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwchain

import (
	"encoding/binary"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/google/uuid"

	"grimm.is/flywall/internal/fwmark"
)

// InstallConnmarkHooks submits the one-shot pair of mark-preserving rules
// described in §4.6: on the first packet of a connection the socket's
// fwmark (masked to the low 20 connmark bits) is saved into the kernel's
// per-connection mark, where it outlives the originating socket. These
// hooks only save; no rule installed here copies ctmark back onto nfmark.
// This runs
// once, after the chain topology (Install) and every sub-controller hook
// have populated their own child chains — never before, since the two
// child chains it targets (connmark_mangle_INPUT/OUTPUT) must already
// exist.
func (m *Manager) InstallConnmarkHooks(af AddressFamily) error {
	batchID := uuid.New().String()
	m.log.Info("installing connmark hooks", "batchId", batchID, "table", m.table)
	for _, fam := range af.tableFamilies() {
		table := m.conn.AddTable(&nftables.Table{Name: m.table, Family: fam})
		if err := m.installConnmarkRule(table, "connmark_mangle_INPUT"); err != nil {
			return err
		}
		if err := m.installConnmarkRule(table, "connmark_mangle_OUTPUT"); err != nil {
			return err
		}
	}
	return m.conn.Flush()
}

// installConnmarkRule adds "only if no mark has been saved on this
// connection yet, save nfmark to ctmark, masked by the connmark mask" to
// chain. Matching `ctmark & mask == 0` first makes the save a one-shot: it
// fires on the first packet of a connection and never again, so a later
// remark of the socket's nfmark (e.g. a uid's permission changing mid-
// connection) can't stomp the mark a packet-filter decision already relied
// on. The mask is applied with expr.Bitwise both before the comparison and
// before the save so only the low 20 bits (netId + flags + permission, §6)
// are ever read or written; everything above the mask (bandwidth/tether
// markers) is left alone.
func (m *Manager) installConnmarkRule(table *nftables.Table, chainName string) error {
	child := m.conn.AddChain(&nftables.Chain{Name: chainName, Table: table})

	maskBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(maskBytes, fwmark.Mask)
	zero := make([]byte, 4)

	m.conn.AddRule(&nftables.Rule{
		Table: table,
		Chain: child,
		Exprs: []expr.Any{
			&expr.Ct{Key: expr.CtKeyMARK, Register: 1},
			&expr.Bitwise{
				SourceRegister: 1,
				DestRegister:   1,
				Len:            4,
				Mask:           maskBytes,
				Xor:            zero,
			},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: zero},
			&expr.Meta{Key: expr.MetaKeyMARK, Register: 2},
			&expr.Bitwise{
				SourceRegister: 2,
				DestRegister:   2,
				Len:            4,
				Mask:           maskBytes,
				Xor:            zero,
			},
			&expr.Ct{Key: expr.CtKeyMARK, Register: 2, SourceRegister: true},
		},
	})
	return nil
}
