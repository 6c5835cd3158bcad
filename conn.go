// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nfq

import (
	"fmt"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/nfq/logging"
)

// transport is the control/event channel to the kernel's netfilter
// subsystem. The production implementation is *netlink.Conn on a
// NETLINK_NETFILTER socket; tests substitute an in-memory implementation so
// the receive loop, codec and verdict path run against scripted frames.
type transport interface {
	// Execute sends a request and blocks for its acknowledgement. Used for
	// configuration only, before the receive loop starts.
	Execute(m netlink.Message) ([]netlink.Message, error)
	// Send writes one frame without waiting for a reply. This is the verdict
	// path; it must be usable while another goroutine blocks in Receive.
	Send(m netlink.Message) (netlink.Message, error)
	// Receive blocks until at least one frame arrives or the channel closes.
	Receive() ([]netlink.Message, error)
	Close() error
}

// dialNetfilter opens the netfilter netlink socket. The socket is the
// exclusive property of the returned transport; closing it invalidates every
// queue registration made through it.
func dialNetfilter(cfg *Config, log *logging.Logger) (transport, error) {
	c, err := netlink.Dial(unix.NETLINK_NETFILTER, &netlink.Config{})
	if err != nil {
		return nil, fmt.Errorf("dial netfilter socket: %w", err)
	}

	// Losing an event to ENOBUFS would desynchronize the loop from the
	// kernel's pending-verdict state, so ask for the no-ENOBUFS behavior.
	// Not supported before 2.6.30; a failure only costs us that guard.
	if err := c.SetOption(netlink.NoENOBUFS, true); err != nil {
		log.Warn("could not set NETLINK_NO_ENOBUFS", "error", err)
	}

	if cfg != nil && cfg.ReadBuffer > 0 {
		if err := c.SetReadBuffer(cfg.ReadBuffer); err != nil {
			c.Close()
			return nil, fmt.Errorf("set netlink read buffer: %w", err)
		}
	}
	return c, nil
}
