// Package prim implements bit-exact encoding and decoding of Send, Recv,
// and Stop primitives into fixed-size 32-byte memory cells.
//
// A PrimOp is a tagged variant over {Send, Recv, Stop}. The wire format
// supports a single cell carrying both a Send and a Recv half; Kind
// reports which logical operation the scheduler should treat the cell as
// (Send dominates), while both halves remain available on the decoded
// PrimOp.
package prim

import (
	"fmt"

	"github.com/myonie-git/router-golden-model/bitword"
)

// Kind discriminates the logical operation a PrimOp represents.
type Kind int

const (
	// KindSend marks a primitive whose Send half is present.
	KindSend Kind = iota
	// KindRecv marks a primitive whose Send half is absent but Recv is present.
	KindRecv
	// KindStop marks the end of a core's primitive queue.
	KindStop
)

func (k Kind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindRecv:
		return "recv"
	case KindStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Message is one inline router-table-entry field set attached to a Send,
// using the field names of router.RTE. It is a plain field map so that
// config loaders can build it without importing package router.
type Message struct {
	S, T, E, Q int
	Y, X       int
	A0         int
	Cnt        int
	AOffset    int
	ConstRaw   int
	Handshake  bool
	TagID      int
	EN         bool
}

// SendPrim is the Send half of a primitive.
type SendPrim struct {
	Deps         uint16
	CellOrNeuron int // 0 = cell, 1 = neuron
	MessageNum   int // logical N; 0 is normalized to 1
	SendAddr     uint16
	ParaAddr     uint16
	Messages     []Message // optional inline RTEs, written at ParaAddr during seeding
}

// NormalizedMessageNum returns N with the 0-means-1 rule applied.
func (s SendPrim) NormalizedMessageNum() int {
	if s.MessageNum == 0 {
		return 1
	}
	return s.MessageNum
}

// RecvPrim is the Recv half of a primitive.
type RecvPrim struct {
	Deps      uint16
	RecvAddr  uint16
	TagID     uint8
	EndNum    uint8
	RelayMode uint8 // CXY, 2 bits, ignored by the engine
	MCY, MCX  int8  // signed 6b, ignored by the engine
}

// PrimOp is one decoded primitive-queue entry.
type PrimOp struct {
	Kind Kind
	Send *SendPrim
	Recv *RecvPrim

	// MemAddr, when non-nil, pins this op to an explicit cell address during
	// seeding; nil means "place sequentially from cell 0".
	MemAddr *int
}

const (
	bitSendValid = 4
	bitRecvValid = 5
)

// Encode serializes op into its 32-byte cell representation.
func Encode(op PrimOp) [32]byte {
	var w bitword.Word256

	if op.Kind == KindStop {
		w.SetUint(0, 8, 0x03)
		return [32]byte(w.BytesBE())
	}

	if op.Send != nil {
		w.SetUint(0, 4, 0x6)
		w.SetUint(bitSendValid, 1, 1)
		w.SetUint(8, 16, uint64(op.Send.Deps))
		w.SetUint(48, 16, uint64(op.Send.SendAddr))
		w.SetUint(168, 1, uint64(op.Send.CellOrNeuron&0x1))
		messageNumMinus1 := op.Send.NormalizedMessageNum() - 1
		w.SetUint(176, 8, uint64(messageNumMinus1))
		w.SetUint(240, 16, uint64(op.Send.ParaAddr))
	}

	if op.Recv != nil {
		w.SetUint(0, 4, 0x6)
		w.SetUint(bitRecvValid, 1, 1)
		w.SetUint(8, 16, uint64(op.Recv.Deps))
		w.SetUint(32, 16, uint64(op.Recv.RecvAddr))
		w.SetUint(172, 2, uint64(op.Recv.RelayMode&0x3))
		w.SetInt(184, 6, int64(op.Recv.MCY))
		w.SetInt(192, 6, int64(op.Recv.MCX))
		w.SetUint(200, 8, uint64(op.Recv.TagID))
		w.SetUint(208, 8, uint64(op.Recv.EndNum))
	}

	var out [32]byte
	copy(out[:], w.BytesBE())
	return out
}

// Decode parses a 32-byte cell into a PrimOp. It returns (nil, nil) for a
// terminator cell: all-zero, or any non-zero cell that is not a Stop and
// has neither send nor recv valid set (such as low nibble 0x6 with both
// flags clear); the low nibble itself is not checked. A cell of any other
// length is a decode error.
func Decode(cell []byte) (*PrimOp, error) {
	if len(cell) != 32 {
		return nil, fmt.Errorf("prim: cell must be 32 bytes, got %d", len(cell))
	}
	w := bitword.Word256FromBytesBE(cell)
	if w.IsZero() {
		return nil, nil
	}

	if w.Uint(0, 8) == 0x03 {
		return &PrimOp{Kind: KindStop}, nil
	}

	sendValid := w.Uint(bitSendValid, 1) == 1
	recvValid := w.Uint(bitRecvValid, 1) == 1
	if !sendValid && !recvValid {
		return nil, nil
	}

	op := &PrimOp{}
	if sendValid {
		op.Kind = KindSend
		op.Send = &SendPrim{
			Deps:         uint16(w.Uint(8, 16)),
			SendAddr:     uint16(w.Uint(48, 16)),
			CellOrNeuron: int(w.Uint(168, 1)),
			MessageNum:   int(w.Uint(176, 8)) + 1,
			ParaAddr:     uint16(w.Uint(240, 16)),
		}
	} else {
		op.Kind = KindRecv
	}

	if recvValid {
		op.Recv = &RecvPrim{
			Deps:      uint16(w.Uint(8, 16)),
			RecvAddr:  uint16(w.Uint(32, 16)),
			RelayMode: uint8(w.Uint(172, 2)),
			MCY:       int8(w.Int(184, 6)),
			MCX:       int8(w.Int(192, 6)),
			TagID:     uint8(w.Uint(200, 8)),
			EndNum:    uint8(w.Uint(208, 8)),
		}
	}

	return op, nil
}
