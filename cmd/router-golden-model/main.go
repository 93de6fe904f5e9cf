// Command router-golden-model is the two-phase seed-then-run driver for
// the router simulator: phase 1 builds the array (which seeds primitives
// and router-table messages into memory and parses each core's queue back
// out); phase 2, if not -seed_only, runs the array to quiescence and
// dumps final memories.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tebeka/atexit"

	"github.com/myonie-git/router-golden-model/config"
	"github.com/myonie-git/router-golden-model/core"
	"github.com/myonie-git/router-golden-model/mem"
)

func main() {
	configPath := flag.String("config", "config/sample_config.yaml", "YAML file describing array and cores")
	outDir := flag.String("out_dir", "out_mem", "where to write resulting memories")
	emitSeededDir := flag.String("emit_seeded_dir", "", "if set, export seeded (phase-1) memories here")
	seedOnly := flag.Bool("seed_only", false, "only do seeding (phase-1) and export to -emit_seeded_dir, then exit")
	dumpCells := flag.Int("dump_cells", 0, "cells to dump per core; 0 means the core's full address space")
	flag.Parse()

	if err := run(*configPath, *outDir, *emitSeededDir, *seedOnly, *dumpCells); err != nil {
		slog.Error("router-golden-model failed", "error", err)
		atexit.Exit(1)
		return
	}
	atexit.Exit(0)
}

func run(configPath, outDir, emitSeededDir string, seedOnly bool, dumpCells int) error {
	height, width, cfgs, err := config.LoadArrayConfig(configPath)
	if err != nil {
		return fmt.Errorf("router-golden-model: loading config: %w", err)
	}

	// Phase 1: build the array, which seeds prims/messages into memory and
	// parses each core's queue back out.
	seedSim, err := core.NewArray(height, width, cfgs)
	if err != nil {
		return fmt.Errorf("router-golden-model: seeding array: %w", err)
	}

	if emitSeededDir != "" {
		if err := dumpAll(seedSim, emitSeededDir, dumpCells); err != nil {
			return fmt.Errorf("router-golden-model: emitting seeded memories: %w", err)
		}
		fmt.Printf("Seeded memories written to %s\n", emitSeededDir)
	}
	if seedOnly {
		return nil
	}

	var finalSim *core.Array
	if emitSeededDir != "" {
		// Phase 2: reload from the seeded dump without re-seeding; each
		// core's prim_queue is already encoded into memory verbatim and
		// parses back out on construction.
		runCfgs := make(map[[2]int]core.NodeConfig, len(cfgs))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				path := seededCorePath(emitSeededDir, y, x)
				numCells := cfgs[[2]int{y, x}].NumCells
				runCfgs[[2]int{y, x}] = core.NodeConfig{
					NumCells: numCells,
					InitMem: func(m *mem.CoreMemory) error {
						return config.LoadInitMemoryFile(m, path)
					},
				}
			}
		}
		finalSim, err = core.NewArray(height, width, runCfgs)
		if err != nil {
			return fmt.Errorf("router-golden-model: reloading seeded array: %w", err)
		}
	} else {
		// Legacy single-phase: seed-and-run in one shot.
		finalSim = seedSim
	}

	if stuck, err := finalSim.Run(); err != nil {
		return fmt.Errorf("router-golden-model: running array: %w", err)
	} else if stuck {
		slog.Warn("array run ended in a stuck state", "reason", "not all primitives could be advanced")
	}

	if err := dumpAll(finalSim, outDir, dumpCells); err != nil {
		return fmt.Errorf("router-golden-model: writing memories: %w", err)
	}
	fmt.Printf("Wrote memories to %s\n", outDir)
	return nil
}

func seededCorePath(dir string, y, x int) string {
	return filepath.Join(dir, fmt.Sprintf("core_%d_%d.txt", y, x))
}

func dumpAll(arr *core.Array, dir string, dumpCells int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for y := 0; y < arr.Height(); y++ {
		for x := 0; x < arr.Width(); x++ {
			n := arr.Node(y, x)
			count := dumpCells
			if count <= 0 {
				count = n.Mem.NumCells()
			}
			path := seededCorePath(dir, y, x)
			if err := config.DumpCoreMemory(n.Mem, path, 0, count); err != nil {
				return err
			}
		}
	}
	return nil
}
