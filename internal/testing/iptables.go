package testing

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/imamik/lxc-compose/internal/platform/iptables"
)

// MemTable is an in-memory iptables.Table. Chains are created on first use
// and listed in "iptables -S" form, policy line first.
type MemTable struct {
	mu     sync.Mutex
	chains map[string][][]string

	// Err, when set for an operation ("list", "insert", "delete"),
	// is returned instead of performing it.
	Err map[string]error

	// Calls counts mutating operations.
	Calls int
}

var _ iptables.Table = (*MemTable)(nil)

// NewMemTable creates an empty table set.
func NewMemTable() *MemTable {
	return &MemTable{chains: map[string][][]string{}, Err: map[string]error{}}
}

func key(table, chain string) string { return table + "/" + chain }

// List implements iptables.Table.
func (m *MemTable) List(table, chain string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Err["list"]; err != nil {
		return nil, err
	}
	lines := []string{"-P " + chain + " ACCEPT"}
	for _, spec := range m.chains[key(table, chain)] {
		lines = append(lines, "-A "+chain+" "+render(spec))
	}
	return lines, nil
}

// Insert implements iptables.Table.
func (m *MemTable) Insert(table, chain string, pos int, rulespec ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Err["insert"]; err != nil {
		return err
	}
	m.Calls++
	rules := m.chains[key(table, chain)]
	if pos < 1 || pos > len(rules)+1 {
		return fmt.Errorf("iptables: index of insertion too big")
	}
	m.chains[key(table, chain)] = slices.Insert(rules, pos-1, slices.Clone(rulespec))
	return nil
}

// Append adds a rule at the end of a chain without counting a call, the
// way an administrator's hand-made rule would appear.
func (m *MemTable) Append(table, chain string, rulespec ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[key(table, chain)] = append(m.chains[key(table, chain)], slices.Clone(rulespec))
	return nil
}

// Delete implements iptables.Table. A missing rule is not an error.
func (m *MemTable) Delete(table, chain string, rulespec ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Err["delete"]; err != nil {
		return err
	}
	m.Calls++
	rules := m.chains[key(table, chain)]
	for i, spec := range rules {
		if slices.Equal(spec, rulespec) {
			m.chains[key(table, chain)] = slices.Delete(rules, i, i+1)
			return nil
		}
	}
	return nil
}

// Rules returns a copy of a chain's rulespecs in order.
func (m *MemTable) Rules(table, chain string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, 0, len(m.chains[key(table, chain)]))
	for _, spec := range m.chains[key(table, chain)] {
		out = append(out, slices.Clone(spec))
	}
	return out
}

// Count returns the number of rules in a chain.
func (m *MemTable) Count(table, chain string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chains[key(table, chain)])
}

// Dump renders every chain, for assertion messages.
func (m *MemTable) Dump() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.chains))
	for k := range m.chains {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, spec := range m.chains[k] {
			fmt.Fprintf(&b, "%s %s\n", k, render(spec))
		}
	}
	return b.String()
}

func render(spec []string) string {
	parts := make([]string, len(spec))
	for i, tok := range spec {
		if strings.ContainsAny(tok, " \t\"") || tok == "" {
			parts[i] = strconv.Quote(tok)
		} else {
			parts[i] = tok
		}
	}
	return strings.Join(parts, " ")
}
