package iptables

import (
	"errors"
	"fmt"

	goiptables "github.com/coreos/go-iptables/iptables"
)

// Table names used by lxc-compose.
const (
	TableNAT    = "nat"
	TableFilter = "filter"
)

// Chain names used by lxc-compose.
const (
	ChainPrerouting = "PREROUTING"
	ChainForward    = "FORWARD"
)

// Table is the subset of iptables operations the reconciler depends on.
// Positions passed to Insert are 1-based.
type Table interface {
	List(table, chain string) ([]string, error)
	Insert(table, chain string, pos int, rulespec ...string) error
	Delete(table, chain string, rulespec ...string) error
}

// Client implements Table with the host iptables binary.
type Client struct {
	ipt *goiptables.IPTables
}

var _ Table = (*Client)(nil)

// New creates an IPv4 client, waiting on the xtables lock when supported.
func New() (*Client, error) {
	ipt, err := goiptables.NewWithProtocol(goiptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise iptables: %w", err)
	}
	return &Client{ipt: ipt}, nil
}

// List returns the rules of a chain in "iptables -S" form.
func (c *Client) List(table, chain string) ([]string, error) {
	rules, err := c.ipt.List(table, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s/%s: %w", table, chain, err)
	}
	return rules, nil
}

// Insert adds a rule at pos.
func (c *Client) Insert(table, chain string, pos int, rulespec ...string) error {
	if err := c.ipt.Insert(table, chain, pos, rulespec...); err != nil {
		return fmt.Errorf("failed to insert into %s/%s: %w", table, chain, err)
	}
	return nil
}

// Delete removes the first rule matching rulespec.
func (c *Client) Delete(table, chain string, rulespec ...string) error {
	if err := c.ipt.Delete(table, chain, rulespec...); err != nil {
		var e *goiptables.Error
		if errors.As(err, &e) && e.IsNotExist() {
			return nil
		}
		return fmt.Errorf("failed to delete from %s/%s: %w", table, chain, err)
	}
	return nil
}
