// Package iptables adapts the host packet filter for the network reconciler.
//
// Table is the narrow surface the reconciler needs. Client implements it on
// top of github.com/coreos/go-iptables, and internal/testing provides an
// in-memory implementation for tests. Listed rules are returned in
// "iptables -S" form and parsed into Rule values with ParseRule.
package iptables
