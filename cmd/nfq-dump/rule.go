// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"fmt"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"

	"grimm.is/nfq"
)

const ruleTable = "nfq_dump"

// installQueueRule creates a dedicated nftables table with an input-hook
// chain whose only rule diverts packets into the given queue. The returned
// cleanup deletes the whole table, so nothing we installed survives exit.
func installQueueRule(family nfq.ProtocolFamily, queueNum uint16, failOpen bool) (func() error, error) {
	c, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("open nftables connection: %w", err)
	}

	var tf nftables.TableFamily
	switch family {
	case nfq.FamilyIPv4:
		tf = nftables.TableFamilyIPv4
	case nfq.FamilyIPv6:
		tf = nftables.TableFamilyIPv6
	case nfq.FamilyBridge:
		tf = nftables.TableFamilyBridge
	default:
		return nil, fmt.Errorf("no nftables family for %s", family)
	}

	table := c.AddTable(&nftables.Table{
		Family: tf,
		Name:   ruleTable,
	})
	chain := c.AddChain(&nftables.Chain{
		Name:     "input",
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
	})

	queue := &expr.Queue{Num: queueNum}
	if failOpen {
		queue.Flag = expr.QueueFlagBypass
	}
	c.AddRule(&nftables.Rule{
		Table: table,
		Chain: chain,
		Exprs: []expr.Any{queue},
	})

	if err := c.Flush(); err != nil {
		return nil, fmt.Errorf("install queue rule: %w", err)
	}

	cleanup := func() error {
		c.DelTable(table)
		if err := c.Flush(); err != nil {
			return fmt.Errorf("remove queue rule: %w", err)
		}
		return nil
	}
	return cleanup, nil
}
