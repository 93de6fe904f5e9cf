package core_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/myonie-git/router-golden-model/core"
	"github.com/myonie-git/router-golden-model/mem"
	"github.com/myonie-git/router-golden-model/prim"
)

// cellOf builds a 32-byte cell from four 8-byte segments, for seeding a
// known source pattern.
func cellOf(seg0, seg1, seg2, seg3 [8]byte) [32]byte {
	var c [32]byte
	copy(c[0:8], seg0[:])
	copy(c[8:16], seg1[:])
	copy(c[16:24], seg2[:])
	copy(c[24:32], seg3[:])
	return c
}

func writeCellAt(arr *core.Array, y, x, addr int, cell [32]byte) {
	Expect(arr.Node(y, x).Mem.WriteCell(addr, cell)).To(Succeed())
}

var _ = Describe("Array scheduler and router integration", func() {
	// Single-cell cell-mode send to the next core in the same row.
	It("delivers a single source cell to a destination's recv_addr", func() {
		srcCell := cellOf(
			[8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
			[8]byte{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18},
			[8]byte{0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27, 0x28},
			[8]byte{0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37, 0x38},
		)

		cfgs := map[[2]int]core.NodeConfig{
			{0, 0}: {
				NumCells: 256,
				PrimQueue: []prim.PrimOp{
					{
						Kind: prim.KindSend,
						Send: &prim.SendPrim{
							CellOrNeuron: 0,
							MessageNum:   1,
							SendAddr:     0x10,
							ParaAddr:     0x20,
							Messages: []prim.Message{
								{Y: 0, X: 1, A0: 0, Cnt: 1, AOffset: 0, ConstRaw: 0, Handshake: false, TagID: 7, EN: true},
							},
						},
					},
					{Kind: prim.KindStop},
				},
			},
			{0, 1}: {
				NumCells: 256,
				PrimQueue: []prim.PrimOp{
					{Kind: prim.KindRecv, Recv: &prim.RecvPrim{RecvAddr: 0x40, TagID: 7}},
					{Kind: prim.KindStop},
				},
			},
		}

		arr, err := core.NewArray(2, 2, cfgs)
		Expect(err).NotTo(HaveOccurred())
		writeCellAt(arr, 0, 0, 0x10, srcCell)

		stuck, err := arr.Run()
		Expect(err).NotTo(HaveOccurred())
		Expect(stuck).To(BeFalse())

		got, err := arr.Node(0, 1).Mem.ReadCell(0x40)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(srcCell))
	})

	// Same delivery as above but with a handshake flag set; the final
	// state must match regardless of whether the payload was buffered or
	// written directly.
	It("produces the same final state under a handshake-required send", func() {
		srcCell := cellOf(
			[8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
			[8]byte{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18},
			[8]byte{0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27, 0x28},
			[8]byte{0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37, 0x38},
		)

		cfgs := map[[2]int]core.NodeConfig{
			{0, 0}: {
				NumCells: 256,
				PrimQueue: []prim.PrimOp{
					{
						Kind: prim.KindSend,
						Send: &prim.SendPrim{
							CellOrNeuron: 0,
							MessageNum:   1,
							SendAddr:     0x10,
							ParaAddr:     0x20,
							Messages: []prim.Message{
								{Y: 0, X: 1, A0: 0, Cnt: 1, AOffset: 0, ConstRaw: 0, Handshake: true, TagID: 7, EN: true},
							},
						},
					},
					{Kind: prim.KindStop},
				},
			},
			{0, 1}: {
				NumCells: 256,
				PrimQueue: []prim.PrimOp{
					{
						Kind: prim.KindSend,
						Send: &prim.SendPrim{CellOrNeuron: 0, MessageNum: 1, SendAddr: 0x00, ParaAddr: 0x08,
							Messages: []prim.Message{{Y: 0, X: 0, A0: 0, Cnt: 1, TagID: 99, EN: true}}},
					},
					{Kind: prim.KindRecv, Recv: &prim.RecvPrim{RecvAddr: 0x40, TagID: 7}},
					{Kind: prim.KindStop},
				},
			},
		}

		arr, err := core.NewArray(2, 2, cfgs)
		Expect(err).NotTo(HaveOccurred())
		writeCellAt(arr, 0, 0, 0x10, srcCell)

		stuck, err := arr.Run()
		Expect(err).NotTo(HaveOccurred())
		Expect(stuck).To(BeFalse())

		got, err := arr.Node(0, 1).Mem.ReadCell(0x40)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(srcCell))
	})

	// EN=0 skips the write but still advances the source stream offset.
	It("skips a disabled message's write but advances the stream", func() {
		cell0x10 := cellOf(
			[8]byte{1, 1, 1, 1, 1, 1, 1, 1},
			[8]byte{1, 1, 1, 1, 1, 1, 1, 1},
			[8]byte{1, 1, 1, 1, 1, 1, 1, 1},
			[8]byte{1, 1, 1, 1, 1, 1, 1, 1},
		)
		cell0x11 := cellOf(
			[8]byte{2, 2, 2, 2, 2, 2, 2, 2},
			[8]byte{2, 2, 2, 2, 2, 2, 2, 2},
			[8]byte{2, 2, 2, 2, 2, 2, 2, 2},
			[8]byte{2, 2, 2, 2, 2, 2, 2, 2},
		)

		cfgs := map[[2]int]core.NodeConfig{
			{0, 0}: {
				NumCells: 256,
				PrimQueue: []prim.PrimOp{
					{Kind: prim.KindRecv, Recv: &prim.RecvPrim{RecvAddr: 0x50, TagID: 1}},
					{
						Kind: prim.KindSend,
						Send: &prim.SendPrim{
							CellOrNeuron: 0,
							MessageNum:   2,
							SendAddr:     0x10,
							ParaAddr:     0x30,
							Messages: []prim.Message{
								{Y: 0, X: 0, A0: 0, Cnt: 1, TagID: 1, EN: false},
								{Y: 0, X: 0, A0: 0, Cnt: 1, TagID: 1, EN: true},
							},
						},
					},
					{Kind: prim.KindStop},
				},
			},
		}

		arr, err := core.NewArray(1, 1, cfgs)
		Expect(err).NotTo(HaveOccurred())
		writeCellAt(arr, 0, 0, 0x10, cell0x10)
		writeCellAt(arr, 0, 0, 0x11, cell0x11)

		stuck, err := arr.Run()
		Expect(err).NotTo(HaveOccurred())
		Expect(stuck).To(BeFalse())

		got, err := arr.Node(0, 0).Mem.ReadCell(0x50)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(cell0x11), "destination should receive the second (enabled) source cell, not the skipped first one")
	})

	// Toroidal wrap on a 3x3 grid: Y=-1, X=-1 from (0,0) lands on (2,2).
	It("wraps a negative RTE offset toroidally", func() {
		srcCell := cellOf(
			[8]byte{9, 9, 9, 9, 9, 9, 9, 9},
			[8]byte{0, 0, 0, 0, 0, 0, 0, 0},
			[8]byte{0, 0, 0, 0, 0, 0, 0, 0},
			[8]byte{0, 0, 0, 0, 0, 0, 0, 0},
		)

		cfgs := map[[2]int]core.NodeConfig{
			{0, 0}: {
				NumCells: 256,
				PrimQueue: []prim.PrimOp{
					{
						Kind: prim.KindSend,
						Send: &prim.SendPrim{
							CellOrNeuron: 0,
							MessageNum:   1,
							SendAddr:     0x10,
							ParaAddr:     0x20,
							Messages: []prim.Message{
								{Y: -1, X: -1, A0: 0, Cnt: 1, TagID: 3, EN: true},
							},
						},
					},
					{Kind: prim.KindStop},
				},
			},
			{2, 2}: {
				NumCells: 256,
				PrimQueue: []prim.PrimOp{
					{Kind: prim.KindRecv, Recv: &prim.RecvPrim{RecvAddr: 0x40, TagID: 3}},
					{Kind: prim.KindStop},
				},
			},
		}

		arr, err := core.NewArray(3, 3, cfgs)
		Expect(err).NotTo(HaveOccurred())
		writeCellAt(arr, 0, 0, 0x10, srcCell)

		stuck, err := arr.Run()
		Expect(err).NotTo(HaveOccurred())
		Expect(stuck).To(BeFalse())

		got, err := arr.Node(2, 2).Mem.ReadCell(0x40)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(srcCell))
	})

	It("finishes without a stuck state when a lone Recv's tag never arrives", func() {
		cfgs := map[[2]int]core.NodeConfig{
			{0, 0}: {
				NumCells: 64,
				PrimQueue: []prim.PrimOp{
					{Kind: prim.KindRecv, Recv: &prim.RecvPrim{RecvAddr: 0x08, TagID: 1}},
				},
			},
		}
		// Without a Stop primitive, the single Recv primitive still executes
		// exactly once (a no-op drain) and the queue completes normally.
		// This test pins down that a lone Recv with no buffered payload is
		// a harmless no-op, not an error.
		arr, err := core.NewArray(1, 1, cfgs)
		Expect(err).NotTo(HaveOccurred())

		stuck, err := arr.Run()
		Expect(err).NotTo(HaveOccurred())
		Expect(stuck).To(BeFalse())
	})

	It("skips cells occupied by an initial memory image when placing sequential primitives", func() {
		preSeeded := prim.Encode(prim.PrimOp{
			Kind: prim.KindSend,
			Send: &prim.SendPrim{CellOrNeuron: 0, MessageNum: 1, SendAddr: 0, ParaAddr: 0},
		})

		cfgs := map[[2]int]core.NodeConfig{
			{0, 0}: {
				NumCells: 8,
				InitMem: func(m *mem.CoreMemory) error {
					return m.WriteCell(0, preSeeded)
				},
				PrimQueue: []prim.PrimOp{
					{Kind: prim.KindStop},
				},
			},
		}

		arr, err := core.NewArray(1, 1, cfgs)
		Expect(err).NotTo(HaveOccurred())

		// The Stop primitive must have been placed at cell 1, since cell 0
		// was pre-occupied by the init image.
		c0, err := arr.Node(0, 0).Mem.ReadCell(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(c0).To(Equal(preSeeded))

		Expect(arr.Node(0, 0).Queue).To(HaveLen(2))
		Expect(arr.Node(0, 0).Queue[0].Kind).To(Equal(prim.KindSend))
		Expect(arr.Node(0, 0).Queue[1].Kind).To(Equal(prim.KindStop))
	})
})
