// Package core assembles the per-core memory, primitive queue, and pending
// buffer into a Node, and drives the round-robin scheduler over a grid of
// Nodes. A full pass with no progress ends the run; there is no cycle
// budget, only queue drain or a stuck state.
package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/myonie-git/router-golden-model/mem"
	"github.com/myonie-git/router-golden-model/prim"
	"github.com/myonie-git/router-golden-model/router"
)

// LevelTrace sits just above Info, so scheduler buffering and stuck-state
// events pass slog's default Info threshold and appear in default output.
const LevelTrace slog.Level = slog.LevelInfo + 1

// Trace logs msg at LevelTrace.
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}

// NodeConfig describes how to build and seed one core. InitMem, when
// non-nil, is invoked against the freshly created memory before any
// seeding; package core stays free of file I/O by taking this as a
// callback rather than a path (that collaborator lives in package config).
type NodeConfig struct {
	NumCells  int
	InitMem   func(*mem.CoreMemory) error
	PrimQueue []prim.PrimOp
}

// Node is one core in the array: its memory, its parsed primitive queue,
// and its per-tag pending-payload buffer.
type Node struct {
	Y, X int
	Mem  *mem.CoreMemory

	// Queue holds the primitive queue as parsed back out of memory after
	// seeding; it is immutable thereafter.
	Queue []prim.PrimOp

	// Pending maps tag_id to the FIFO-ordered buffered sends awaiting a
	// matching Recv.
	Pending map[uint8][]router.PendingPayload
}

func newNode(y, x, numCells int) *Node {
	return &Node{
		Y:       y,
		X:       x,
		Mem:     mem.New(numCells),
		Pending: make(map[uint8][]router.PendingPayload),
	}
}

// Memory implements router.Destination.
func (n *Node) Memory() router.Memory { return n.Mem }

// RecvBase implements router.Destination: the recv_addr of the first Recv
// primitive in this core's queue carrying tagID, or 0 if none.
func (n *Node) RecvBase(tagID uint8) int {
	for _, op := range n.Queue {
		if op.Recv != nil && op.Recv.TagID == tagID {
			return int(op.Recv.RecvAddr)
		}
	}
	return 0
}

// HasRecvForTag implements router.Destination.
func (n *Node) HasRecvForTag(tagID uint8) bool {
	for _, op := range n.Queue {
		if op.Recv != nil && op.Recv.TagID == tagID {
			return true
		}
	}
	return false
}

// Buffer implements router.Destination: appends p to the pending list for
// its tag, preserving arrival order.
func (n *Node) Buffer(p router.PendingPayload) {
	n.Pending[p.RTE.TagID] = append(n.Pending[p.RTE.TagID], p)
	Trace("buffered send payload", "dst_y", n.Y, "dst_x", n.X, "tag", p.RTE.TagID)
}

// seedAndParse writes configured primitives and inline router-table
// entries into n.Mem, then parses the queue back out of memory.
func (n *Node) seedAndParse(ops []prim.PrimOp) error {
	occupied := make(map[int]bool)
	for _, a := range n.Mem.Cells() {
		if n.Mem.IsOccupied(a) {
			occupied[a] = true
		}
	}

	// Step 1: explicit addresses.
	for _, op := range ops {
		if op.MemAddr == nil {
			continue
		}
		cell := prim.Encode(op)
		if err := n.Mem.WriteCell(*op.MemAddr, cell); err != nil {
			return fmt.Errorf("core: seeding primitive at (%d,%d) addr %d: %w", n.Y, n.X, *op.MemAddr, err)
		}
		occupied[*op.MemAddr] = true
	}

	// Step 2: sequential placement from cell 0, skipping occupied cells.
	next := 0
	for _, op := range ops {
		if op.MemAddr != nil {
			continue
		}
		for next < n.Mem.NumCells() && occupied[next] {
			next++
		}
		if next >= n.Mem.NumCells() {
			break
		}
		cell := prim.Encode(op)
		if err := n.Mem.WriteCell(next, cell); err != nil {
			return fmt.Errorf("core: seeding primitive at (%d,%d) addr %d: %w", n.Y, n.X, next, err)
		}
		occupied[next] = true
		next++
	}

	// Step 3: inline router-table messages for Sends.
	for _, op := range ops {
		if err := n.seedMessages(op); err != nil {
			return err
		}
	}

	// Step 4: re-parse the queue from memory.
	queue, err := parseQueue(n.Mem)
	if err != nil {
		return fmt.Errorf("core: parsing primitive queue at (%d,%d): %w", n.Y, n.X, err)
	}
	n.Queue = queue
	return nil
}

func (n *Node) seedMessages(op prim.PrimOp) error {
	if op.Send == nil || len(op.Send.Messages) == 0 {
		return nil
	}
	rtes := make([]router.RTE, len(op.Send.Messages))
	for i, m := range op.Send.Messages {
		rtes[i] = router.FromMessage(m)
	}
	err := router.WriteRouterTable(n.Mem.WriteCell, int(op.Send.ParaAddr), rtes)
	if err != nil {
		return fmt.Errorf("core: seeding router table at (%d,%d): %w", n.Y, n.X, err)
	}
	return nil
}

func parseQueue(m *mem.CoreMemory) ([]prim.PrimOp, error) {
	var queue []prim.PrimOp
	for addr := 0; addr < m.NumCells(); addr++ {
		cell, err := m.ReadCell(addr)
		if err != nil {
			return nil, err
		}
		op, err := prim.Decode(cell[:])
		if err != nil {
			return nil, err
		}
		if op == nil {
			break
		}
		queue = append(queue, *op)
	}
	return queue, nil
}

// Array is the full grid of Nodes and implements router.Grid so the router
// engine can resolve a Send's destination without holding a back-reference
// to the scheduler.
type Array struct {
	H, W  int
	nodes []*Node // row-major, length H*W
}

// NewArray builds an H x W grid, constructs each Node's memory, applies its
// optional init-memory loader, seeds configured primitives and router-table
// messages, and parses each Node's queue from memory.
// A coordinate absent from cfgs gets an empty default NodeConfig.
func NewArray(height, width int, cfgs map[[2]int]NodeConfig) (*Array, error) {
	a := &Array{H: height, W: width, nodes: make([]*Node, height*width)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			cfg := cfgs[[2]int{y, x}]
			n := newNode(y, x, cfg.NumCells)
			if cfg.InitMem != nil {
				if err := cfg.InitMem(n.Mem); err != nil {
					return nil, fmt.Errorf("core: loading init memory at (%d,%d): %w", y, x, err)
				}
			}
			a.nodes[y*width+x] = n
			if err := n.seedAndParse(cfg.PrimQueue); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// Height implements router.Grid.
func (a *Array) Height() int { return a.H }

// Width implements router.Grid.
func (a *Array) Width() int { return a.W }

// Destination implements router.Grid.
func (a *Array) Destination(y, x int) router.Destination {
	return a.node(y, x)
}

func (a *Array) node(y, x int) *Node {
	return a.nodes[y*a.W+x]
}

// Node returns the Node at (y,x), for callers (config dump, debug printers)
// that need the concrete type rather than the router.Destination view.
func (a *Array) Node(y, x int) *Node {
	return a.node(y, x)
}

// Run executes every Node's primitive queue to quiescence: round-robin
// over nodes in row-major order, one primitive per eligible node per pass,
// until a full pass makes no progress. It returns (true, nil) if the run
// ended in a stuck state (ops remain but no node could advance) rather
// than draining every queue; a stuck state is logged, not fatal.
func (a *Array) Run() (stuck bool, err error) {
	indices := make([]int, len(a.nodes))
	stopped := make([]bool, len(a.nodes))
	remaining := 0
	for _, n := range a.nodes {
		remaining += len(n.Queue)
	}

	for remaining > 0 {
		progressed := false
		for i, n := range a.nodes {
			if stopped[i] {
				continue
			}
			idx := indices[i]
			if idx >= len(n.Queue) {
				continue
			}
			op := n.Queue[idx]

			if op.Kind == prim.KindStop {
				stopped[i] = true
			} else {
				if err := a.step(n, op); err != nil {
					return false, err
				}
			}

			indices[i]++
			remaining--
			progressed = true
		}
		if !progressed {
			Trace("scheduler stuck", "remaining_ops", remaining)
			return true, nil
		}
	}
	return false, nil
}

// step runs one non-Stop primitive: recv-side effects first (drain the
// pending buffer for the tag), then send-side effects.
func (a *Array) step(n *Node, op prim.PrimOp) error {
	if op.Recv != nil {
		tagID := op.Recv.TagID
		pending := n.Pending[tagID]
		delete(n.Pending, tagID)
		if err := router.ExecuteRecv(n, tagID, pending); err != nil {
			return err
		}
	}
	if op.Send != nil {
		if err := n.seedMessages(op); err != nil {
			return err
		}
		if err := router.ExecuteSend(n.Y, n.X, n.Mem, *op.Send, a); err != nil {
			return err
		}
	}
	return nil
}
