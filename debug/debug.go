// Package debug prints human-readable dumps of core memory and array
// queues, for interactive inspection between runs.
package debug

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/myonie-git/router-golden-model/core"
	"github.com/myonie-git/router-golden-model/prim"
)

var titleCaser = cases.Title(language.English)

// toTitleCase converts a string to Title case (e.g. "SEND" -> "Send").
func toTitleCase(s string) string {
	return titleCaser.String(strings.ToLower(s))
}

// PrintMemory writes a table of the materialized cells in m to w, one row
// per cell address that has ever been written (including cells written with
// all-zero data), with the cell's 32 bytes rendered as two 16-byte hex
// halves for readability.
func PrintMemory(w io.Writer, label string, m interface {
	NumCells() int
	Cells() []int
	MustReadCell(addr int) [32]byte
}) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Memory: %s", label))
	t.AppendHeader(table.Row{"Addr", "Bytes[0:16]", "Bytes[16:32]"})

	for _, addr := range m.Cells() {
		cell := m.MustReadCell(addr)
		t.AppendRow(table.Row{
			fmt.Sprintf("0x%04x", addr),
			fmt.Sprintf("% x", cell[0:16]),
			fmt.Sprintf("% x", cell[16:32]),
		})
	}
	t.Render()
}

// PrintQueue writes a table summarizing one node's parsed primitive queue:
// kind, and the kind-specific fields relevant to a human reviewer.
func PrintQueue(w io.Writer, y, x int, queue []prim.PrimOp) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Queue @(%d,%d)", y, x))
	t.AppendHeader(table.Row{"Idx", "Kind", "Detail"})

	for i, op := range queue {
		detail := ""
		switch op.Kind {
		case prim.KindSend:
			detail = fmt.Sprintf("send_addr=0x%x para_addr=0x%x message_num=%d",
				op.Send.SendAddr, op.Send.ParaAddr, op.Send.NormalizedMessageNum())
		case prim.KindRecv:
			detail = fmt.Sprintf("recv_addr=0x%x tag_id=%d", op.Recv.RecvAddr, op.Recv.TagID)
		}
		t.AppendRow(table.Row{i, toTitleCase(op.Kind.String()), detail})
	}
	t.Render()
}

// PrintArray writes the memory and queue of every node in arr, in row-major
// order, to w.
func PrintArray(w io.Writer, arr *core.Array) {
	for y := 0; y < arr.Height(); y++ {
		for x := 0; x < arr.Width(); x++ {
			n := arr.Node(y, x)
			PrintQueue(w, y, x, n.Queue)
			PrintMemory(w, fmt.Sprintf("(%d,%d)", y, x), n.Mem)
		}
	}
}
