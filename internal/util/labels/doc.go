// Package labels provides consistent tagging for resources owned by lxc-compose.
//
// Firewall rules carry a comment tag of the form "lxc-compose:<container>",
// and containers carry user.lxc-compose.* configuration keys built with
// LabelBuilder.
package labels
