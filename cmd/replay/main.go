package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	persistlog "voxelshare.dev/internal/persistence/log"
	"voxelshare.dev/internal/protocol"
	"voxelshare.dev/internal/sim/terrain"
	"voxelshare.dev/internal/sim/world"
)

// replay re-applies a world's mutation audit log to fresh terrain and checks
// that every recorded outcome is reproduced. It does not restore a server;
// it prints the overlay of the last recorded run. Every server start begins
// from fresh terrain, so each run is replayed from scratch.
func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		worldID = flag.String("world", "world_1", "world id")
		dump    = flag.Bool("overlay", false, "print the reconstructed overlay as JSON")
	)
	flag.Parse()

	res, err := replay(filepath.Join(*dataDir, "worlds", *worldID), *worldID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: runs=%d entries=%d accepted=%d skipped=%d overlay=%d\n", res.Runs, res.Entries, res.Accepted, res.Skipped, len(res.Overlay))
	if *dump {
		writeOverlay(os.Stdout, res.Overlay)
	}
}

type result struct {
	Entries  int
	Runs     int
	Accepted int
	// Skipped counts rejections whose reason depends on player positions,
	// which the audit log does not carry.
	Skipped int
	Overlay []protocol.OverlayEntry
}

func replay(worldDir, worldID string) (result, error) {
	var w *world.World
	// No players are present during replay, so placements are checked from a
	// point no block can reach.
	far := terrain.Vec3f{X: 1e9, Y: 1e9, Z: 1e9}

	var res result
	var (
		run     string
		lastSeq uint64
	)
	err := persistlog.ReadAudit(worldDir, func(e world.AuditEntry) error {
		res.Entries++
		if e.World != "" && e.World != worldID {
			return fmt.Errorf("seq %d: entry for world %q", e.Seq, e.World)
		}
		if w == nil || e.Run != run {
			w = world.New(world.WorldConfig{ID: worldID, RunID: e.Run}, nil)
			run = e.Run
			lastSeq = 0
			res.Runs++
		}
		if e.Seq <= lastSeq {
			return fmt.Errorf("run %q: seq %d after %d: out of order", run, e.Seq, lastSeq)
		}
		lastSeq = e.Seq
		if !e.Accepted && e.Reason == protocol.RejectIntersectsPlayer {
			res.Skipped++
			return nil
		}

		c := terrain.Vec3i{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]}
		var out world.Outcome
		switch e.Action {
		case "REMOVE_BLOCK":
			if !e.Accepted {
				// Rejections never mutate; only check they still hold.
				if w.Exists(c) {
					return fmt.Errorf("seq %d: recorded %s but block present at %v", e.Seq, e.Reason, e.Pos)
				}
				return nil
			}
			out = w.RequestRemove(c)
		case "PLACE_BLOCK":
			if !e.Accepted {
				if !w.Exists(c) {
					return fmt.Errorf("seq %d: recorded %s but %v is empty", e.Seq, e.Reason, e.Pos)
				}
				return nil
			}
			out = w.RequestPlace(c, far)
		default:
			return fmt.Errorf("seq %d: unknown action %q", e.Seq, e.Action)
		}
		if !out.Accepted {
			return fmt.Errorf("seq %d: %s at %v recorded accepted, replay rejected (%s)", e.Seq, e.Action, e.Pos, out.Reason)
		}
		res.Accepted++
		return nil
	})
	if err != nil {
		return res, err
	}
	if w != nil {
		res.Overlay = w.Overlay()
	}
	return res, nil
}

func writeOverlay(out io.Writer, overlay []protocol.OverlayEntry) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(overlay)
}
