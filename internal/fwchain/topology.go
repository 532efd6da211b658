// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwchain

import (
	"fmt"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/google/uuid"

	"grimm.is/flywall/internal/logging"
)

// hook describes one built-in packet-filter hook point: the parent chain
// the core materializes under it, the install mode used to reconcile it,
// and the fixed, reviewed order of child chains linked beneath it.
//
// Ordering is a design constant, not configuration: e.g. bandwidth
// accounting must link before firewall drops on the INPUT hook, so
// counting happens even for packets a later child will reject.
type hook struct {
	table    string
	family   nftables.TableFamily
	parent   string
	kind     nftables.ChainType
	hooknum  *nftables.ChainHook
	priority *nftables.ChainPriority
	mode     InstallMode
	children []string
}

// Topology returns the fixed hierarchy of parent hooks and their child
// chains. Cooperative mode is used on the two parents vendor code is known
// to inject rules into (filter OUTPUT, mangle POSTROUTING); every other
// parent is Exclusive.
func Topology(table string) []hook {
	filterPrio := nftables.ChainPriorityFilter
	natDestPrio := nftables.ChainPriorityNATDest
	natSourcePrio := nftables.ChainPriorityNATSource
	manglePrio := nftables.ChainPriorityMangle
	rawPrio := nftables.ChainPriorityRaw

	return []hook{
		{table: table, parent: "INPUT", kind: nftables.ChainTypeFilter,
			hooknum: nftables.ChainHookInput, priority: filterPrio, mode: Exclusive,
			children: []string{"bandwidth_INPUT", "tether_counters_INPUT", "firewall_INPUT", "idletimer_INPUT"}},
		{table: table, parent: "FORWARD", kind: nftables.ChainTypeFilter,
			hooknum: nftables.ChainHookForward, priority: filterPrio, mode: Exclusive,
			children: []string{"bandwidth_FORWARD", "tether_counters_FORWARD", "firewall_FORWARD"}},
		{table: table, parent: "OUTPUT", kind: nftables.ChainTypeFilter,
			hooknum: nftables.ChainHookOutput, priority: filterPrio, mode: Cooperative,
			children: []string{"bandwidth_OUTPUT", "firewall_OUTPUT", "idletimer_OUTPUT"}},

		{table: table, parent: "PREROUTING", kind: nftables.ChainTypeFilter,
			hooknum: nftables.ChainHookPrerouting, priority: rawPrio, mode: Exclusive,
			children: []string{"strict_PREROUTING"}},

		{table: table, parent: "mangle_INPUT", kind: nftables.ChainTypeFilter,
			hooknum: nftables.ChainHookInput, priority: manglePrio, mode: Exclusive,
			children: []string{"bandwidth_mangle_INPUT", "connmark_mangle_INPUT"}},
		{table: table, parent: "mangle_FORWARD", kind: nftables.ChainTypeFilter,
			hooknum: nftables.ChainHookForward, priority: manglePrio, mode: Exclusive,
			children: []string{"bandwidth_mangle_FORWARD"}},
		{table: table, parent: "mangle_OUTPUT", kind: nftables.ChainTypeFilter,
			hooknum: nftables.ChainHookOutput, priority: manglePrio, mode: Exclusive,
			children: []string{"bandwidth_mangle_OUTPUT", "connmark_mangle_OUTPUT"}},
		{table: table, parent: "mangle_POSTROUTING", kind: nftables.ChainTypeFilter,
			hooknum: nftables.ChainHookPostrouting, priority: manglePrio, mode: Cooperative,
			children: []string{"qos_mangle_POSTROUTING"}},

		{table: table, parent: "nat_PREROUTING", kind: nftables.ChainTypeNAT,
			hooknum: nftables.ChainHookPrerouting, priority: natDestPrio, mode: Exclusive,
			children: []string{"tether_nat_PREROUTING"}},
		{table: table, parent: "nat_POSTROUTING", kind: nftables.ChainTypeNAT,
			hooknum: nftables.ChainHookPostrouting, priority: natSourcePrio, mode: Exclusive,
			children: []string{"tether_nat_POSTROUTING"}},
	}
}

// Manager materializes the chain Topology against a live nftables
// connection (or a test double satisfying conn).
type Manager struct {
	conn  conn
	table string
	log   *logging.Logger
}

// NewManager wires a Manager to c, operating on the named nftables table
// (created on demand in every family the install targets).
func NewManager(c conn, table string, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	return &Manager{conn: c, table: table, log: log}
}

// Install materializes every hook in Topology for the requested address
// families. Installation runs once at startup under the init sequencer
// (C8); running it again is idempotent (§8 property 7).
func (m *Manager) Install(af AddressFamily) error {
	batchID := uuid.New().String()
	m.log.Info("installing chain topology", "batchId", batchID, "table", m.table)
	for _, fam := range af.tableFamilies() {
		for _, h := range Topology(m.table) {
			if err := m.installHook(h, fam); err != nil {
				m.log.Warn("chain topology install failed", "batchId", batchID, "parent", h.parent, "error", err)
				return fmt.Errorf("install hook %s/%d: %w", h.parent, fam, err)
			}
		}
	}
	m.log.Info("chain topology installed", "batchId", batchID, "table", m.table)
	return nil
}

func (m *Manager) installHook(h hook, family nftables.TableFamily) error {
	table := m.conn.AddTable(&nftables.Table{Name: h.table, Family: family})

	parent := m.conn.AddChain(&nftables.Chain{
		Name:     h.parent,
		Table:    table,
		Type:     h.kind,
		Hooknum:  h.hooknum,
		Priority: h.priority,
	})

	switch h.mode {
	case Exclusive:
		return m.installExclusive(table, parent, h.children)
	default:
		return m.installCooperative(table, parent, h.children)
	}
}

// installExclusive flushes the parent (dropping any rule it holds,
// built-in or not — the core owns this parent outright) and relinks every
// child chain in order.
func (m *Manager) installExclusive(table *nftables.Table, parent *nftables.Chain, children []string) error {
	m.conn.FlushChain(parent)
	for _, name := range children {
		if err := m.linkChild(table, parent, name); err != nil {
			return err
		}
	}
	return m.conn.Flush()
}

// installCooperative never deletes a rule in the parent. It recreates
// (flushes) every child chain, but only adds a jump for children that
// aren't already linked, so a reinstall never reorders an already-present
// link past whatever vendor rules sit around it.
func (m *Manager) installCooperative(table *nftables.Table, parent *nftables.Chain, children []string) error {
	linked, err := m.linkedChildren(table, parent)
	if err != nil {
		return fmt.Errorf("list existing links in %s: %w", parent.Name, err)
	}

	for _, name := range children {
		child := m.conn.AddChain(&nftables.Chain{Name: name, Table: table})
		m.conn.FlushChain(child)
		if linked[name] {
			continue
		}
		m.conn.AddRule(&nftables.Rule{
			Table: table,
			Chain: parent,
			Exprs: []expr.Any{&expr.Verdict{Kind: expr.VerdictJump, Chain: name}},
		})
	}
	return m.conn.Flush()
}

// linkChild creates/flushes the named child chain and adds an
// unconditional jump to it from parent — the nftables realization of
// `-A parent -j child` (§6).
func (m *Manager) linkChild(table *nftables.Table, parent *nftables.Chain, name string) error {
	child := m.conn.AddChain(&nftables.Chain{Name: name, Table: table})
	m.conn.FlushChain(child)
	m.conn.AddRule(&nftables.Rule{
		Table: table,
		Chain: parent,
		Exprs: []expr.Any{&expr.Verdict{Kind: expr.VerdictJump, Chain: name}},
	})
	return nil
}

// linkedChildren inspects parent's current rules for jump verdicts,
// returning the set of already-linked child chain names. This is the only
// rule shape the core ever matches when listing (§6): `-A parent -j
// child`.
func (m *Manager) linkedChildren(table *nftables.Table, parent *nftables.Chain) (map[string]bool, error) {
	rules, err := m.conn.GetRules(table, parent)
	if err != nil {
		return nil, err
	}
	linked := make(map[string]bool)
	for _, rule := range rules {
		for _, e := range rule.Exprs {
			if v, ok := e.(*expr.Verdict); ok && v.Kind == expr.VerdictJump {
				linked[v.Chain] = true
			}
		}
	}
	return linked, nil
}
