package world

import (
	"sort"

	"voxelshare.dev/internal/protocol"
	"voxelshare.dev/internal/sim/terrain"
)

// Outcome is the result of a mutation request. A rejection is a normal
// negative answer, not an error.
type Outcome struct {
	Accepted bool
	Reason   string
}

var accepted = Outcome{Accepted: true}

func rejected(reason string) Outcome { return Outcome{Reason: reason} }

// Exists reports whether a block is present at c: natural terrain XOR a
// committed toggle. Reads never generate chunks.
func (w *World) Exists(c terrain.Vec3i) bool {
	_, t := w.toggled[c]
	return w.natural(c) != t
}

// natural answers from a resident chunk when there is one and from the
// height function otherwise.
func (w *World) natural(c terrain.Vec3i) bool {
	if n, ok := w.chunks.LoadedNatural(c); ok {
		return n
	}
	return terrain.IsNatural(c)
}

// RequestRemove commits the removal of an existing block. Removing a block
// that is already absent is rejected, so each block is removed exactly once.
func (w *World) RequestRemove(c terrain.Vec3i) Outcome {
	if !w.Exists(c) {
		return rejected(protocol.RejectAlreadyAbsent)
	}
	w.toggle(c)
	return accepted
}

// RequestPlace commits a new block at c unless c is occupied or the unit cube
// would overlap the requester's own bounding box. Other players are not
// checked.
func (w *World) RequestPlace(c terrain.Vec3i, requester terrain.Vec3f) Outcome {
	if w.Exists(c) {
		return rejected(protocol.RejectOccupied)
	}
	if IntersectsBox(c, requester, w.cfg.PlayerBox) {
		return rejected(protocol.RejectIntersectsPlayer)
	}
	w.toggle(c)
	return accepted
}

// toggle flips c. Flipping back to the natural state drops the entry, so the
// log only ever holds coordinates that currently differ from terrain. Only
// chunks holding overlay entries stay resident.
func (w *World) toggle(c terrain.Vec3i) {
	k := w.chunks.KeyFor(c.X, c.Z)
	if _, ok := w.toggled[c]; ok {
		delete(w.toggled, c)
		if w.edits[k]--; w.edits[k] <= 0 {
			delete(w.edits, k)
			w.chunks.Evict(k)
		}
		return
	}
	w.toggled[c] = struct{}{}
	w.edits[k]++
	w.chunks.GetOrGenerate(k)
}

// IntersectsBox reports whether the unit cube centred on c overlaps a box of
// size centred on pos. Touching faces do not count.
func IntersectsBox(c terrain.Vec3i, pos terrain.Vec3f, size [3]float64) bool {
	overlap := func(cell int, center, extent float64) bool {
		lo, hi := float64(cell)-0.5, float64(cell)+0.5
		plo, phi := center-extent/2, center+extent/2
		return lo < phi && plo < hi
	}
	return overlap(c.X, pos.X, size[0]) &&
		overlap(c.Y, pos.Y, size[1]) &&
		overlap(c.Z, pos.Z, size[2])
}

// Overlay lists every coordinate that differs from natural terrain, sorted by
// (x, y, z). It is the explicit part of the connect snapshot.
func (w *World) Overlay() []protocol.OverlayEntry {
	out := make([]protocol.OverlayEntry, 0, len(w.toggled))
	for c := range w.toggled {
		kind := protocol.KindPlaced
		if w.natural(c) {
			kind = protocol.KindRemoved
		}
		out = append(out, protocol.OverlayEntry{X: c.X, Y: c.Y, Z: c.Z, Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return out
}

func (w *World) OverlaySize() int { return len(w.toggled) }
