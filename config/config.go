// Package config loads an ArrayConfig from YAML, translates it into the
// core.NodeConfig values package core consumes, and implements the
// init-memory-file and dump-file text formats. File I/O, YAML decoding,
// and the legacy send_queue/recv_queue shape live here so that package
// core stays a pure in-memory simulator.
package config

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/myonie-git/router-golden-model/core"
	"github.com/myonie-git/router-golden-model/mem"
	"github.com/myonie-git/router-golden-model/prim"
)

// YAMLMessage is one inline router-table-entry field set. Counts here are
// logical values; the minus-one wire convention is applied only by the
// codecs, never by callers.
type YAMLMessage struct {
	S         int  `yaml:"s,omitempty"`
	T         int  `yaml:"t,omitempty"`
	E         int  `yaml:"e,omitempty"`
	Q         int  `yaml:"q,omitempty"`
	Y         int  `yaml:"y"`
	X         int  `yaml:"x"`
	A0        int  `yaml:"a0"`
	Cnt       int  `yaml:"cnt"`
	AOffset   int  `yaml:"a_offset"`
	ConstRaw  int  `yaml:"const_raw"`
	Handshake bool `yaml:"handshake"`
	TagID     int  `yaml:"tag_id"`
	EN        bool `yaml:"en"`
}

// YAMLSend is the YAML shape of a Send primitive.
type YAMLSend struct {
	Deps         uint16        `yaml:"deps"`
	CellOrNeuron int           `yaml:"cell_or_neuron"`
	MessageNum   int           `yaml:"message_num"`
	SendAddr     uint16        `yaml:"send_addr"`
	ParaAddr     uint16        `yaml:"para_addr"`
	Messages     []YAMLMessage `yaml:"messages,omitempty"`
}

// YAMLRecv is the YAML shape of a Recv primitive.
type YAMLRecv struct {
	Deps      uint16 `yaml:"deps"`
	RecvAddr  uint16 `yaml:"recv_addr"`
	TagID     uint8  `yaml:"tag_id"`
	EndNum    uint8  `yaml:"end_num"`
	RelayMode uint8  `yaml:"cxy"`
	MCY       int8   `yaml:"mc_y"`
	MCX       int8   `yaml:"mc_x"`
}

// YAMLPrimEntry is one prim_queue entry: a Send, a Recv, both, or a Stop
// marker, plus an optional explicit placement address.
type YAMLPrimEntry struct {
	Stop    bool      `yaml:"stop,omitempty"`
	Send    *YAMLSend `yaml:"send,omitempty"`
	Recv    *YAMLRecv `yaml:"recv,omitempty"`
	MemAddr *int      `yaml:"mem_addr,omitempty"`
}

// YAMLCoreConfig is the per-core YAML shape. SendQueue/RecvQueue are the
// legacy back-compat shape: when present instead of PrimQueue, they are
// folded into one queue, sends first then receives.
type YAMLCoreConfig struct {
	InitMemPath string          `yaml:"init_mem_path,omitempty"`
	PrimQueue   []YAMLPrimEntry `yaml:"prim_queue,omitempty"`
	SendQueue   []YAMLSend      `yaml:"send_queue,omitempty"`
	RecvQueue   []YAMLRecv      `yaml:"recv_queue,omitempty"`
	NumCells    int             `yaml:"num_cells,omitempty"`
}

// YAMLCoreEntry pairs a coordinate with its config.
type YAMLCoreEntry struct {
	Y      int            `yaml:"y"`
	X      int            `yaml:"x"`
	Config YAMLCoreConfig `yaml:"config"`
}

// YAMLArrayConfig is the top-level document shape.
type YAMLArrayConfig struct {
	Height int             `yaml:"height"`
	Width  int             `yaml:"width"`
	Cores  []YAMLCoreEntry `yaml:"cores"`
}

// LoadArrayConfig reads and parses a YAML array config file, then
// translates it into (height, width, per-core core.NodeConfig), ready to
// hand to core.NewArray.
func LoadArrayConfig(path string) (height, width int, cfgs map[[2]int]core.NodeConfig, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var doc YAMLArrayConfig
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, 0, nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfgs = make(map[[2]int]core.NodeConfig, len(doc.Cores))
	for _, entry := range doc.Cores {
		nc, err := translateCoreConfig(entry.Config)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("config: core (%d,%d): %w", entry.Y, entry.X, err)
		}
		cfgs[[2]int{entry.Y, entry.X}] = nc
	}
	return doc.Height, doc.Width, cfgs, nil
}

// translateCoreConfig builds a core.NodeConfig from one YAML core entry,
// folding the legacy send_queue/recv_queue shape when prim_queue is absent.
func translateCoreConfig(yc YAMLCoreConfig) (core.NodeConfig, error) {
	nc := core.NodeConfig{NumCells: yc.NumCells}

	if yc.InitMemPath != "" {
		path := yc.InitMemPath
		nc.InitMem = func(m *mem.CoreMemory) error {
			return LoadInitMemoryFile(m, path)
		}
	}

	entries := yc.PrimQueue
	if len(entries) == 0 && (len(yc.SendQueue) > 0 || len(yc.RecvQueue) > 0) {
		for _, s := range yc.SendQueue {
			s := s
			entries = append(entries, YAMLPrimEntry{Send: &s})
		}
		for _, r := range yc.RecvQueue {
			r := r
			entries = append(entries, YAMLPrimEntry{Recv: &r})
		}
	}

	queue := make([]prim.PrimOp, 0, len(entries))
	for _, e := range entries {
		op, err := translatePrimEntry(e)
		if err != nil {
			return core.NodeConfig{}, err
		}
		queue = append(queue, op)
	}
	nc.PrimQueue = queue
	return nc, nil
}

func translatePrimEntry(e YAMLPrimEntry) (prim.PrimOp, error) {
	if e.Stop {
		return prim.PrimOp{Kind: prim.KindStop, MemAddr: e.MemAddr}, nil
	}
	if e.Send == nil && e.Recv == nil {
		return prim.PrimOp{}, fmt.Errorf("prim_queue entry must specify send, recv, or stop")
	}

	op := prim.PrimOp{MemAddr: e.MemAddr}
	if e.Send != nil {
		op.Kind = prim.KindSend
		op.Send = &prim.SendPrim{
			Deps:         e.Send.Deps,
			CellOrNeuron: e.Send.CellOrNeuron,
			MessageNum:   e.Send.MessageNum,
			SendAddr:     e.Send.SendAddr,
			ParaAddr:     e.Send.ParaAddr,
		}
		if len(e.Send.Messages) > 0 {
			op.Send.MessageNum = len(e.Send.Messages)
			msgs := make([]prim.Message, len(e.Send.Messages))
			for i, m := range e.Send.Messages {
				msgs[i] = prim.Message{
					S: m.S, T: m.T, E: m.E, Q: m.Q,
					Y: m.Y, X: m.X,
					A0:        m.A0,
					Cnt:       m.Cnt,
					AOffset:   m.AOffset,
					ConstRaw:  m.ConstRaw,
					Handshake: m.Handshake,
					TagID:     m.TagID,
					EN:        m.EN,
				}
			}
			op.Send.Messages = msgs
		}
	} else {
		op.Kind = prim.KindRecv
	}
	if e.Recv != nil {
		op.Recv = &prim.RecvPrim{
			Deps:      e.Recv.Deps,
			RecvAddr:  e.Recv.RecvAddr,
			TagID:     e.Recv.TagID,
			EndNum:    e.Recv.EndNum,
			RelayMode: e.Recv.RelayMode,
			MCY:       e.Recv.MCY,
			MCX:       e.Recv.MCX,
		}
	}
	return op, nil
}

// LoadInitMemoryFile parses the "@<4-hex> <hex-bytes>" text format and
// loads matching cells into m. Lines not starting with '@' are skipped;
// out-of-range addresses are skipped silently; the hex payload is
// normalized to exactly 64 hex chars (left-padded if short,
// right-truncated keeping the last 64 chars if long).
func LoadInitMemoryFile(m *mem.CoreMemory, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: opening init memory file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "@") {
			continue
		}
		fields := strings.Fields(line)
		addr, err := strconv.ParseInt(fields[0][1:], 16, 64)
		if err != nil {
			return fmt.Errorf("config: %s: malformed address %q: %w", path, fields[0], err)
		}
		if addr < 0 || int(addr) >= m.NumCells() {
			continue
		}
		payload := strings.Join(fields[1:], "")
		data, err := normalizeHex64(payload)
		if err != nil {
			return fmt.Errorf("config: %s: malformed hex payload for @%04x: %w", path, addr, err)
		}
		var cell [mem.CellBytes]byte
		copy(cell[:], data)
		if err := m.WriteCell(int(addr), cell); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func normalizeHex64(payload string) ([]byte, error) {
	const want = mem.CellBytes * 2
	switch {
	case len(payload) < want:
		payload = strings.Repeat("0", want-len(payload)) + payload
	case len(payload) > want:
		payload = payload[len(payload)-want:]
	}
	return hex.DecodeString(payload)
}

// DumpCoreMemory writes "@<4-hex> <64-hex>\n" lines for cells
// [start, start+count) to path, in the format LoadInitMemoryFile reads
// back. Unmapped cells dump as all zeros.
func DumpCoreMemory(m *mem.CoreMemory, path string, start, count int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: creating dump file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for a := start; a < start+count; a++ {
		cell, err := m.ReadCell(a)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "@%04x %s\n", a, hex.EncodeToString(cell[:])); err != nil {
			return err
		}
	}
	return w.Flush()
}
