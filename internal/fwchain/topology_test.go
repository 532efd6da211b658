// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwchain

import (
	"testing"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a minimal in-memory double for the conn interface, standing
// in for netlink the same way vrf_test.go's MockNetlinker stands in for
// the kernel elsewhere in this codebase. It never talks to the kernel, so
// tests can assert on exactly what rules/chains would have been submitted.
type fakeConn struct {
	tables map[string]*nftables.Table
	chains map[string]*nftables.Chain // keyed by table.Name+"/"+chain.Name
	rules  map[string][]*nftables.Rule
	flushes int
	deletedRules int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		tables: make(map[string]*nftables.Table),
		chains: make(map[string]*nftables.Chain),
		rules:  make(map[string][]*nftables.Rule),
	}
}

func chainKey(table, chain string) string { return table + "/" + chain }

func (f *fakeConn) AddTable(t *nftables.Table) *nftables.Table {
	key := t.Name
	if existing, ok := f.tables[key]; ok {
		return existing
	}
	f.tables[key] = t
	return t
}

func (f *fakeConn) AddChain(c *nftables.Chain) *nftables.Chain {
	key := chainKey(c.Table.Name, c.Name)
	if existing, ok := f.chains[key]; ok {
		return existing
	}
	f.chains[key] = c
	return c
}

func (f *fakeConn) FlushChain(c *nftables.Chain) {
	key := chainKey(c.Table.Name, c.Name)
	delete(f.rules, key)
}

func (f *fakeConn) AddRule(r *nftables.Rule) *nftables.Rule {
	key := chainKey(r.Table.Name, r.Chain.Name)
	f.rules[key] = append(f.rules[key], r)
	return r
}

func (f *fakeConn) ListTables() ([]*nftables.Table, error) {
	out := make([]*nftables.Table, 0, len(f.tables))
	for _, t := range f.tables {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeConn) ListChains() ([]*nftables.Chain, error) {
	out := make([]*nftables.Chain, 0, len(f.chains))
	for _, c := range f.chains {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeConn) GetRules(table *nftables.Table, chain *nftables.Chain) ([]*nftables.Rule, error) {
	return f.rules[chainKey(table.Name, chain.Name)], nil
}

func (f *fakeConn) Flush() error {
	f.flushes++
	return nil
}

func jumpTargets(rules []*nftables.Rule) []string {
	var out []string
	for _, r := range rules {
		for _, e := range r.Exprs {
			if v, ok := e.(*expr.Verdict); ok && v.Kind == expr.VerdictJump {
				out = append(out, v.Chain)
			}
		}
	}
	return out
}

func TestExclusiveInstallLinksAllChildrenInOrder(t *testing.T) {
	c := newFakeConn()
	m := NewManager(c, "flywall", nil)
	require.NoError(t, m.Install(IPv4))

	rules := c.rules[chainKey("flywall", "INPUT")]
	assert.Equal(t, []string{"bandwidth_INPUT", "tether_counters_INPUT", "firewall_INPUT", "idletimer_INPUT"}, jumpTargets(rules))
}

// Property 7: installing twice produces the same final chain state.
func TestInstallIsIdempotent(t *testing.T) {
	c := newFakeConn()
	m := NewManager(c, "flywall", nil)
	require.NoError(t, m.Install(IPv4))

	first := map[string][]string{}
	for key, rules := range c.rules {
		first[key] = jumpTargets(rules)
	}

	require.NoError(t, m.Install(IPv4))

	second := map[string][]string{}
	for key, rules := range c.rules {
		second[key] = jumpTargets(rules)
	}

	assert.Equal(t, first, second)
}

// S4: cooperative install must not relink an existing child and must never
// touch a vendor-owned rule.
func TestCooperativeInstallPreservesVendorLink(t *testing.T) {
	c := newFakeConn()
	table := c.AddTable(&nftables.Table{Name: "flywall", Family: nftables.TableFamilyIPv4})
	prio := nftables.ChainPriorityFilter
	output := c.AddChain(&nftables.Chain{
		Name: "OUTPUT", Table: table, Type: nftables.ChainTypeFilter,
		Hooknum: nftables.ChainHookOutput, Priority: prio,
	})

	// Vendor rule, and our own prior link to "firewall_OUTPUT", pre-exist.
	c.AddRule(&nftables.Rule{Table: table, Chain: output, Exprs: []expr.Any{
		&expr.Verdict{Kind: expr.VerdictJump, Chain: "vendor_chain"},
	}})
	c.AddRule(&nftables.Rule{Table: table, Chain: output, Exprs: []expr.Any{
		&expr.Verdict{Kind: expr.VerdictJump, Chain: "firewall_OUTPUT"},
	}})

	m := NewManager(c, "flywall", nil)
	require.NoError(t, m.Install(IPv4))

	rules := c.rules[chainKey("flywall", "OUTPUT")]
	targets := jumpTargets(rules)

	assert.Contains(t, targets, "vendor_chain")
	assert.Equal(t, 1, countOccurrences(targets, "firewall_OUTPUT"), "existing link must not be duplicated")
	assert.Contains(t, targets, "bandwidth_OUTPUT")
	assert.Contains(t, targets, "idletimer_OUTPUT")

	// No rule in OUTPUT was ever deleted: the vendor rule is exactly the
	// one we added above, untouched.
	assert.Equal(t, "vendor_chain", targets[0], "vendor rule must stay first, never reordered")
}

func countOccurrences(items []string, target string) int {
	n := 0
	for _, s := range items {
		if s == target {
			n++
		}
	}
	return n
}

func TestConnmarkHooksInstallTwoRules(t *testing.T) {
	c := newFakeConn()
	m := NewManager(c, "flywall", nil)
	require.NoError(t, m.Install(IPv4))
	require.NoError(t, m.InstallConnmarkHooks(IPv4))

	for _, chain := range []string{"connmark_mangle_INPUT", "connmark_mangle_OUTPUT"} {
		rules := c.rules[chainKey("flywall", chain)]
		require.Len(t, rules, 1)
		assertSavesMarkOnlyOnce(t, rules[0])
	}
}

// assertSavesMarkOnlyOnce checks the rule reads ctmark, masks it, and
// compares the result against zero before it ever saves nfmark into
// ctmark — the "only the first packet of a connection" guard spec.md §4.6
// requires, without which every packet would overwrite the saved mark.
func assertSavesMarkOnlyOnce(t *testing.T, rule *nftables.Rule) {
	t.Helper()
	var sawCtRead, sawZeroCmp, sawMarkSave bool
	zero := make([]byte, 4)
	for _, e := range rule.Exprs {
		switch v := e.(type) {
		case *expr.Ct:
			if v.Key == expr.CtKeyMARK && !v.SourceRegister {
				sawCtRead = true
			}
			if v.Key == expr.CtKeyMARK && v.SourceRegister {
				sawMarkSave = true
				assert.True(t, sawCtRead, "mark save must follow the ctmark read it guards")
				assert.True(t, sawZeroCmp, "mark save must follow the zero comparison it is gated on")
			}
		case *expr.Cmp:
			if v.Op == expr.CmpOpEq && bytesEqual(v.Data, zero) {
				sawZeroCmp = true
				assert.True(t, sawCtRead, "zero comparison must follow the ctmark read it tests")
			}
		}
	}
	assert.True(t, sawCtRead, "rule must read ctmark before saving")
	assert.True(t, sawZeroCmp, "rule must compare masked ctmark against zero")
	assert.True(t, sawMarkSave, "rule must save nfmark into ctmark")
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInstallBothFamiliesRunsPerFamily(t *testing.T) {
	c := newFakeConn()
	m := NewManager(c, "flywall", nil)
	require.NoError(t, m.Install(V4V6))

	_, v4 := c.tables["flywall"]
	assert.True(t, v4)
	// Every hook submits one batch per family: IPv4 and IPv6 each.
	assert.Equal(t, 2*len(Topology("flywall")), c.flushes)
}
