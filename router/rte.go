// Package router implements the 128-bit router-table-entry codec and the
// router engine that walks decoded entries to compute destination writes.
// A core only ever needs its own (y,x) plus a signed per-message offset;
// RTE offsets are arbitrary signed deltas taken modulo the grid, not a
// fixed compass direction set.
package router

import (
	"fmt"

	"github.com/myonie-git/router-golden-model/bitword"
	"github.com/myonie-git/router-golden-model/prim"
)

// RTE is one 128-bit router-table entry.
type RTE struct {
	S, T, E, Q int
	Y, X       int8  // signed 6b destination offset in cores
	A0         int   // 14b unsigned start A
	CNT        int   // 12b, pack_per_message / neuron_per_message; 0 means 1
	AOffset    int16 // 12b signed
	ConstRaw   int   // 7b unsigned; group size = ConstRaw+1, 0 -> 1
	Handshake  bool
	TagID      uint8
	EN         bool
}

// GroupSize returns the derived group size: ConstRaw+1, with 0 meaning 1.
func (r RTE) GroupSize() int {
	if r.ConstRaw == 0 {
		return 1
	}
	return r.ConstRaw + 1
}

// Units returns CNT with the 0-means-1 rule applied.
func (r RTE) Units() int {
	if r.CNT == 0 {
		return 1
	}
	return r.CNT
}

// EncodeRTE packs r into its 128-bit wire form.
func EncodeRTE(r RTE) bitword.Word128 {
	var w bitword.Word128
	w.SetUint(0, 1, uint64(r.S&0x1))
	w.SetUint(1, 1, uint64(r.T&0x1))
	w.SetUint(2, 1, uint64(r.E&0x1))
	w.SetUint(3, 1, uint64(r.Q&0x1))
	w.SetInt(6, 6, int64(r.Y))
	w.SetInt(12, 6, int64(r.X))
	w.SetUint(18, 14, uint64(r.A0&0x3FFF))
	w.SetUint(32, 12, uint64(r.CNT&0xFFF))
	w.SetInt(44, 12, int64(r.AOffset))
	w.SetUint(56, 7, uint64(r.ConstRaw&0x7F))
	w.SetUint(63, 1, boolBit(r.Handshake))
	w.SetUint(64, 8, uint64(r.TagID))
	w.SetUint(72, 1, boolBit(r.EN))
	return w
}

// DecodeRTE unpacks a 128-bit router-table entry.
func DecodeRTE(w bitword.Word128) RTE {
	return RTE{
		S:         int(w.Uint(0, 1)),
		T:         int(w.Uint(1, 1)),
		E:         int(w.Uint(2, 1)),
		Q:         int(w.Uint(3, 1)),
		Y:         int8(w.Int(6, 6)),
		X:         int8(w.Int(12, 6)),
		A0:        int(w.Uint(18, 14)),
		CNT:       int(w.Uint(32, 12)),
		AOffset:   int16(w.Int(44, 12)),
		ConstRaw:  int(w.Uint(56, 7)),
		Handshake: w.Uint(63, 1) == 1,
		TagID:     uint8(w.Uint(64, 8)),
		EN:        w.Uint(72, 1) == 1,
	}
}

// FromMessage builds an RTE from a prim.Message field set, as used when
// seeding inline send messages at para_addr.
func FromMessage(m prim.Message) RTE {
	return RTE{
		S: m.S, T: m.T, E: m.E, Q: m.Q,
		Y: int8(m.Y), X: int8(m.X),
		A0:        m.A0,
		CNT:       m.Cnt,
		AOffset:   int16(m.AOffset),
		ConstRaw:  m.ConstRaw,
		Handshake: m.Handshake,
		TagID:     uint8(m.TagID),
		EN:        m.EN,
	}
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// PackCell packs up to two RTEs into one 32-byte cell: lower in bits
// [127:0], upper in bits [255:128] (zero if upper is nil).
func PackCell(lower RTE, upper *RTE) [32]byte {
	var cell [32]byte
	lw := EncodeRTE(lower)
	copy(cell[16:32], lw.BytesBE())
	if upper != nil {
		uw := EncodeRTE(*upper)
		copy(cell[0:16], uw.BytesBE())
	}
	return cell
}

// WriteRouterTable serializes pkts two-per-cell into memory at baseAddr;
// an odd trailing entry leaves the upper half of its cell zero.
func WriteRouterTable(write func(addr int, cell [32]byte) error, baseAddr int, pkts []RTE) error {
	i := 0
	cellIdx := 0
	for i < len(pkts) {
		lower := pkts[i]
		var upper *RTE
		if i+1 < len(pkts) {
			upper = &pkts[i+1]
		}
		if err := write(baseAddr+cellIdx, PackCell(lower, upper)); err != nil {
			return fmt.Errorf("router: writing table cell %d: %w", cellIdx, err)
		}
		i += 2
		cellIdx++
	}
	return nil
}

// ParseRouterTable reads n entries starting at baseAddr: ceil(n/2) cells,
// lower entry then upper entry per cell, trimmed to exactly n.
func ParseRouterTable(read func(addr int) ([32]byte, error), baseAddr, n int) ([]RTE, error) {
	if n <= 0 {
		return nil, nil
	}
	neededCells := (n + 1) / 2
	entries := make([]RTE, 0, n)
	for i := 0; i < neededCells; i++ {
		cell, err := read(baseAddr + i)
		if err != nil {
			return nil, fmt.Errorf("router: reading table cell %d: %w", i, err)
		}
		lower := bitword.Word128FromBytesBE(cell[16:32])
		upper := bitword.Word128FromBytesBE(cell[0:16])
		entries = append(entries, DecodeRTE(lower))
		if len(entries) < n {
			entries = append(entries, DecodeRTE(upper))
		}
	}
	return entries[:n], nil
}
