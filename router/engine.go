// This file implements the router engine: given a Send primitive and the
// RTEs it references, compute and emit the destination writes (or buffer
// them on a handshake miss), and replay a destination's buffered payloads
// when its matching Recv executes.
//
// The engine never holds a reference back to a core; it is handed small
// interfaces (Memory, Destination, Grid) that the owning scheduler
// (package core) implements, so a Send's cross-core write is expressed as
// a bounded call into the destination rather than a stored back-pointer.
package router

import (
	"fmt"

	"github.com/myonie-git/router-golden-model/prim"
)

// Memory is the subset of mem.CoreMemory the engine needs, satisfied
// structurally (no import of package mem here, to keep router free of a
// dependency on the storage package's concrete type).
type Memory interface {
	ReadCell(addr int) ([32]byte, error)
	ReadBytesLinear(startCell, startOff, length int) ([]byte, error)
	Write8B(addr, segment int, data [8]byte) error
	Write1B(addr, byteIdx int, v byte) error
}

// PendingPayload is one buffered Send awaiting a matching Recv.
type PendingPayload struct {
	IsCellMode bool
	RTE        RTE
	Payload    []byte
}

// Destination is the view of a destination core the engine needs to emit
// writes into it or buffer a payload for later delivery.
type Destination interface {
	Memory() Memory
	// RecvBase returns the recv_addr of the first Recv primitive in this
	// core's queue with the given tag, or 0 if none.
	RecvBase(tagID uint8) int
	// HasRecvForTag reports whether any Recv primitive anywhere in this
	// core's queue (executed or not) carries tagID.
	HasRecvForTag(tagID uint8) bool
	// Buffer appends p to this core's pending list for p.RTE.TagID.
	Buffer(p PendingPayload)
}

// Grid resolves a toroidal (y,x) offset to a Destination.
type Grid interface {
	Height() int
	Width() int
	Destination(y, x int) Destination
}

func wrapMod(v, m int) int {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}

// ExecuteSend runs one Send primitive originating at (srcY, srcX) with
// source memory srcMem: it parses the referenced router-table entries and
// walks them in order, emitting destination writes or buffering payloads.
func ExecuteSend(srcY, srcX int, srcMem Memory, sp prim.SendPrim, grid Grid) error {
	n := sp.NormalizedMessageNum()
	rtes, err := ParseRouterTable(srcMem.ReadCell, int(sp.ParaAddr), n)
	if err != nil {
		return fmt.Errorf("router: parsing router table for send at (%d,%d): %w", srcY, srcX, err)
	}

	counts := make([]int, len(rtes))
	for i, r := range rtes {
		counts[i] = r.Units()
	}

	for i, rte := range rtes {
		if !rte.EN {
			// Skip consumption entirely; the stream offset still advances
			// because counts[i] is included in every later sum(counts[:j]).
			continue
		}

		dstY := wrapMod(srcY+int(rte.Y), grid.Height())
		dstX := wrapMod(srcX+int(rte.X), grid.Width())
		dst := grid.Destination(dstY, dstX)

		if rte.Handshake && !dst.HasRecvForTag(rte.TagID) {
			payload, err := materializeSendPayload(srcMem, sp, rte, i, counts)
			if err != nil {
				return fmt.Errorf("router: buffering send at (%d,%d) msg %d: %w", srcY, srcX, i, err)
			}
			dst.Buffer(PendingPayload{
				IsCellMode: sp.CellOrNeuron == 0,
				RTE:        rte,
				Payload:    payload,
			})
			continue
		}

		if sp.CellOrNeuron == 0 {
			if err := sendCellMode(srcMem, dst, sp, rte, i, counts); err != nil {
				return fmt.Errorf("router: cell-mode send at (%d,%d) msg %d: %w", srcY, srcX, i, err)
			}
		} else {
			if err := sendNeuronMode(srcMem, dst, sp, rte, i, counts); err != nil {
				return fmt.Errorf("router: neuron-mode send at (%d,%d) msg %d: %w", srcY, srcX, i, err)
			}
		}
	}
	return nil
}

func sumBefore(counts []int, idx int) int {
	sum := 0
	for _, c := range counts[:idx] {
		sum += c
	}
	return sum
}

// materializeSendPayload reads the bytes this message would have sent, so
// they can be replayed verbatim once a matching Recv is posted.
func materializeSendPayload(srcMem Memory, sp prim.SendPrim, rte RTE, idx int, counts []int) ([]byte, error) {
	units := rte.Units()
	if sp.CellOrNeuron == 0 {
		baseCell := int(sp.SendAddr) + sumBefore(counts, idx)
		out := make([]byte, 0, units*32)
		for i := 0; i < units; i++ {
			cell, err := srcMem.ReadCell(baseCell + i)
			if err != nil {
				return nil, err
			}
			out = append(out, cell[:]...)
		}
		return out, nil
	}

	prevBytes := sumBefore(counts, idx)
	startCell := int(sp.SendAddr) + prevBytes/32
	startOff := prevBytes % 32
	return srcMem.ReadBytesLinear(startCell, startOff, units)
}

func sendCellMode(srcMem Memory, dst Destination, sp prim.SendPrim, rte RTE, idx int, counts []int) error {
	units := rte.Units()
	groupSize := rte.GroupSize()
	a := rte.A0
	baseCell := int(sp.SendAddr) + sumBefore(counts, idx)

	for i := 0; i < units; i++ {
		cell, err := srcMem.ReadCell(baseCell + i)
		if err != nil {
			return err
		}
		for seg := 0; seg < 4; seg++ {
			var data8 [8]byte
			copy(data8[:], cell[seg*8:seg*8+8])
			if err := writeCellModeUnit(dst, rte, a, data8); err != nil {
				return err
			}
			a++
		}
		if (i+1)%groupSize == 0 {
			a += int(rte.AOffset) - 1
		}
	}
	return nil
}

func writeCellModeUnit(dst Destination, rte RTE, a int, data8 [8]byte) error {
	cellDelta, segIdx := mapCellMode(a)
	addr := dst.RecvBase(rte.TagID) + cellDelta
	return dst.Memory().Write8B(addr, segIdx, data8)
}

func sendNeuronMode(srcMem Memory, dst Destination, sp prim.SendPrim, rte RTE, idx int, counts []int) error {
	units := rte.Units()
	groupSize := rte.GroupSize()
	a := rte.A0
	prevBytes := sumBefore(counts, idx)
	startCell := int(sp.SendAddr) + prevBytes/32
	startOff := prevBytes % 32

	for i := 0; i < units; i++ {
		b, err := srcMem.ReadBytesLinear(startCell, startOff, 1)
		if err != nil {
			return err
		}
		if err := writeNeuronModeUnit(dst, rte, a, b[0]); err != nil {
			return err
		}
		startOff++
		if startOff == 32 {
			startOff = 0
			startCell++
		}
		a++
		if (i+1)%groupSize == 0 {
			a += int(rte.AOffset) - 1
		}
	}
	return nil
}

func writeNeuronModeUnit(dst Destination, rte RTE, a int, b byte) error {
	cellDelta, byteIdx := mapNeuronMode(a)
	addr := dst.RecvBase(rte.TagID) + cellDelta
	return dst.Memory().Write1B(addr, byteIdx, b)
}

// mapCellMode/mapNeuronMode duplicate mem.MapCellMode/MapNeuronMode's
// arithmetic locally to avoid importing package mem into router (router
// only depends on the Memory interface, not the concrete storage type).
func mapCellMode(a int) (cellDelta, segment int) {
	return a >> 2, a & 0x3
}

func mapNeuronMode(a int) (cellDelta, byteIdx int) {
	return a >> 5, a & 0x1F
}

// ExecuteRecv drains dst's pending payloads for tagID in FIFO arrival
// order, replaying each buffered write walk with its stored RTE snapshot.
func ExecuteRecv(dst Destination, tagID uint8, pending []PendingPayload) error {
	for _, p := range pending {
		if err := replay(dst, p); err != nil {
			return fmt.Errorf("router: replaying buffered payload for tag %d: %w", tagID, err)
		}
	}
	return nil
}

func replay(dst Destination, p PendingPayload) error {
	rte := p.RTE
	groupSize := rte.GroupSize()
	a := rte.A0

	if p.IsCellMode {
		for i := 0; i < len(p.Payload); i += 32 {
			cellBytes := p.Payload[i : i+32]
			for seg := 0; seg < 4; seg++ {
				var data8 [8]byte
				copy(data8[:], cellBytes[seg*8:seg*8+8])
				if err := writeCellModeUnit(dst, rte, a, data8); err != nil {
					return err
				}
				a++
			}
			sentCells := i/32 + 1
			if sentCells%groupSize == 0 {
				a += int(rte.AOffset) - 1
			}
		}
		return nil
	}

	for idx, b := range p.Payload {
		if err := writeNeuronModeUnit(dst, rte, a, b); err != nil {
			return err
		}
		a++
		if (idx+1)%groupSize == 0 {
			a += int(rte.AOffset) - 1
		}
	}
	return nil
}
