package nic

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// ResolveInterface fails fast with a clear error when the configured
// interface name does not exist on the host, before any attempt is made
// to hand it to the (out-of-scope) kernel-bypass attach call.
func ResolveInterface(name string) (netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("nic: interface %q not found: %w", name, err)
	}
	return link, nil
}
