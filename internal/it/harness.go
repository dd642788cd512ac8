// Package it contains an in-process integration harness: it runs a
// small cluster of real agents on loopback ports and checks that their
// group views converge.
package it

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"membership/internal/agent"
	"membership/internal/config"
)

// Cluster runs several agents in one process, each with its own
// loopback address and in-memory event log.
type Cluster struct {
	mu     sync.Mutex
	nodes  map[string]*clusterNode
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
}

type clusterNode struct {
	id     string
	addr   string
	agent  *agent.Agent
	cancel context.CancelFunc
	done   chan error
}

// NewCluster creates an empty cluster.
func NewCluster() *Cluster {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cluster{
		nodes:  make(map[string]*clusterNode),
		ctx:    ctx,
		cancel: cancel,
	}
}

// freePort reserves a loopback port. The listener is closed before the
// agent binds it, so a rebind race is possible but rare on loopback.
func freePort() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	addr := ln.Addr().String()
	return addr, ln.Close()
}

// StartNode starts one agent. The first node should bootstrap; later
// nodes join through the seeds already running.
func (c *Cluster) StartNode(id string, bootstrap bool) error {
	addr, err := freePort()
	if err != nil {
		return err
	}

	cfg := config.Default()
	cfg.NodeID = id
	cfg.ListenAddr = addr
	cfg.AdvertiseAddr = addr
	cfg.Bootstrap = bootstrap
	cfg.ProbeInterval = config.Duration(25 * time.Millisecond)
	cfg.SuspectTimeout = config.Duration(2 * time.Second)
	cfg.DeadTimeout = config.Duration(5 * time.Second)
	cfg.LogLevel = "error"

	c.mu.Lock()
	for _, n := range c.nodes {
		cfg.Seeds = append(cfg.Seeds, config.Peer{ID: n.id, Addr: n.addr})
	}
	c.mu.Unlock()

	a, err := agent.New(cfg)
	if err != nil {
		return fmt.Errorf("start %s: %w", id, err)
	}

	nodeCtx, nodeCancel := context.WithCancel(c.ctx)
	node := &clusterNode{
		id:     id,
		addr:   addr,
		agent:  a,
		cancel: nodeCancel,
		done:   make(chan error, 1),
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		node.done <- a.Run(nodeCtx)
	}()

	c.mu.Lock()
	c.nodes[id] = node
	c.mu.Unlock()
	return nil
}

// StopNode cancels one agent and waits for it to exit. The rest of the
// cluster keeps running and should eventually remove the node.
func (c *Cluster) StopNode(id string) error {
	c.mu.Lock()
	node, ok := c.nodes[id]
	delete(c.nodes, id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown node %s", id)
	}

	node.cancel()
	return <-node.done
}

// Group returns the group as seen by the given node.
func (c *Cluster) Group(id string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes[id]
	if !ok {
		return nil
	}
	return node.agent.Membership().Group()
}

// WaitForGroup polls until every running node reports exactly the
// given group, or the deadline passes.
func (c *Cluster) WaitForGroup(want []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if c.allAgree(want) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("cluster did not converge on %v within %s", want, timeout)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func (c *Cluster) allAgree(want []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, node := range c.nodes {
		got := node.agent.Membership().Group()
		if len(got) != len(want) {
			return false
		}
		for i := range want {
			if got[i] != want[i] {
				return false
			}
		}
	}
	return len(c.nodes) > 0
}

// Shutdown stops every node and waits for all of them to exit.
func (c *Cluster) Shutdown() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, node := range c.nodes {
		<-node.done
	}
	c.nodes = make(map[string]*clusterNode)
}
