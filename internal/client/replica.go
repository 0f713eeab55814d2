// Package client keeps a local replica of the shared world in sync with a
// server: natural terrain is regenerated locally, and the server's mutation
// diffs are layered on top.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"voxelshare.dev/internal/protocol"
	"voxelshare.dev/internal/sim/chunks"
	"voxelshare.dev/internal/sim/terrain"
)

var ErrParamsMismatch = errors.New("world params differ from local terrain constants")

// Replica is one client's view of the world. Safe for concurrent use.
type Replica struct {
	mu sync.Mutex

	radius int
	self   string
	selfAt terrain.Vec3f
	chunks *chunks.Manager

	// toggled mirrors the server overlay: coordinates whose existence differs
	// from natural terrain. Entries survive chunk eviction.
	toggled map[terrain.Vec3i]struct{}
	players map[string]terrain.Vec3f

	desyncs int
}

func NewReplica(renderDistance int) *Replica {
	if renderDistance < 0 {
		renderDistance = chunks.DefaultRenderDistance
	}
	return &Replica{
		radius:  renderDistance,
		chunks:  chunks.NewManager(chunks.DefaultChunkSize, renderDistance),
		toggled: map[terrain.Vec3i]struct{}{},
		players: map[string]terrain.Vec3f{},
	}
}

// CheckParams reports whether p describes the same terrain this binary
// generates.
func CheckParams(p protocol.WorldParams) error {
	switch {
	case p.ProtocolVersion != protocol.Version:
		return fmt.Errorf("%w: protocol_version %q", ErrParamsMismatch, p.ProtocolVersion)
	case p.PermDigest != terrain.PermDigest():
		return fmt.Errorf("%w: perm_digest", ErrParamsMismatch)
	case p.NoiseScale != terrain.Scale || p.NoiseAmplitude != terrain.Amplitude:
		return fmt.Errorf("%w: noise %v/%d", ErrParamsMismatch, p.NoiseScale, p.NoiseAmplitude)
	case p.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk_size %d", ErrParamsMismatch, p.ChunkSize)
	}
	return nil
}

// ApplyInit replaces the replica with the server snapshot and loads chunks
// around the player's spawn.
func (r *Replica) ApplyInit(m protocol.InitMsg) error {
	if err := CheckParams(m.Params); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.self = m.ID
	r.chunks = chunks.NewManager(m.Params.ChunkSize, r.radius)
	r.toggled = make(map[terrain.Vec3i]struct{}, len(m.Overlay))
	r.players = map[string]terrain.Vec3f{}
	r.desyncs = 0

	for _, e := range m.Overlay {
		c := terrain.Vec3i{X: e.X, Y: e.Y, Z: e.Z}
		natural := terrain.IsNatural(c)
		if (e.Kind == protocol.KindRemoved) != natural {
			// A "removed" entry over air or a "placed" one over terrain.
			r.desyncs++
			continue
		}
		r.toggled[c] = struct{}{}
	}
	for id, p := range m.Players {
		pos := terrain.Vec3f{X: p.X, Y: p.Y, Z: p.Z}
		if id == m.ID {
			r.selfAt = pos
			continue
		}
		r.players[id] = pos
	}
	r.chunks.EnsureLoaded(r.selfAt.X, r.selfAt.Z)
	return nil
}

// ApplyRemoved applies a blockRemoved diff. Applying it twice is a no-op.
func (r *Replica) ApplyRemoved(c terrain.Vec3i) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set(c, false)
}

// ApplyPlaced applies a blockPlaced diff. Applying it twice is a no-op.
func (r *Replica) ApplyPlaced(c terrain.Vec3i) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set(c, true)
}

func (r *Replica) set(c terrain.Vec3i, present bool) {
	_, t := r.toggled[c]
	if exists := terrain.IsNatural(c) != t; exists == present {
		r.desyncs++
		return
	}
	if t {
		delete(r.toggled, c)
	} else {
		r.toggled[c] = struct{}{}
	}
}

// Exists reports whether c is present in a loaded chunk. Blocks in unloaded
// chunks are reported absent.
func (r *Replica) Exists(c terrain.Vec3i) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exists(c)
}

func (r *Replica) exists(c terrain.Vec3i) bool {
	natural, ok := r.chunks.LoadedNatural(c)
	if !ok {
		return false
	}
	_, t := r.toggled[c]
	return natural != t
}

// RemoveLocal removes c immediately and returns the request to send. The
// removal is never rolled back: if the server rejects it, the block was
// already gone there too.
func (r *Replica) RemoveLocal(c terrain.Vec3i) (protocol.BlockMsg, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exists(c) {
		return protocol.BlockMsg{}, false
	}
	r.set(c, false)
	return protocol.BlockMsg{Type: protocol.TypeRemoveBlock, X: c.X, Y: c.Y, Z: c.Z}, true
}

// RequestPlace builds a placement request. Nothing changes locally until the
// server confirms with blockPlaced.
func (r *Replica) RequestPlace(c terrain.Vec3i) protocol.BlockMsg {
	return protocol.BlockMsg{Type: protocol.TypePlaceBlockRequest, X: c.X, Y: c.Y, Z: c.Z}
}

// MoveTo records the local player's position, streams chunks around it and
// returns the move message to send.
func (r *Replica) MoveTo(pos terrain.Vec3f) protocol.MoveMsg {
	r.mu.Lock()
	r.selfAt = pos
	r.chunks.EnsureLoaded(pos.X, pos.Z)
	r.mu.Unlock()
	return protocol.MoveMsg{Type: protocol.TypeMove, X: pos.X, Y: pos.Y, Z: pos.Z}
}

// SetFocus streams chunks around (x, z) without moving the player.
func (r *Replica) SetFocus(x, z float64) (loaded, evicted []chunks.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunks.EnsureLoaded(x, z)
}

// VisibleBlocks lists every present block in loaded chunks, sorted by
// (x, y, z).
func (r *Replica) VisibleBlocks() []terrain.Vec3i {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []terrain.Vec3i
	for _, k := range r.chunks.Loaded() {
		rec, _ := r.chunks.Get(k)
		rec.Each(func(c terrain.Vec3i) {
			if _, t := r.toggled[c]; !t {
				out = append(out, c)
			}
		})
	}
	for c := range r.toggled {
		if terrain.IsNatural(c) {
			continue
		}
		if r.chunks.IsLoaded(r.chunks.KeyFor(c.X, c.Z)) {
			out = append(out, c)
		}
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

func (r *Replica) LoadedChunks() []chunks.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunks.Loaded()
}

func (r *Replica) OverlaySize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.toggled)
}

func (r *Replica) ApplyJoined(id string, pos terrain.Vec3f) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != r.self {
		r.players[id] = pos
	}
}

func (r *Replica) ApplyMoved(id string, pos terrain.Vec3f) { r.ApplyJoined(id, pos) }

func (r *Replica) ApplyLeft(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, id)
}

// Players returns the other players' positions.
func (r *Replica) Players() map[string]terrain.Vec3f {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]terrain.Vec3f, len(r.players))
	for id, p := range r.players {
		out[id] = p
	}
	return out
}

func (r *Replica) Self() (string, terrain.Vec3f) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self, r.selfAt
}

// Desyncs counts diffs that already matched local state.
func (r *Replica) Desyncs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.desyncs
}

// HandleMessage applies one server message. Unknown types are ignored.
func (r *Replica) HandleMessage(raw []byte) error {
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return err
	}
	switch base.Type {
	case protocol.TypeInit:
		var m protocol.InitMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return r.ApplyInit(m)
	case protocol.TypePlayerJoined, protocol.TypePlayerMoved:
		var m protocol.PlayerMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		r.ApplyJoined(m.ID, terrain.Vec3f{X: m.X, Y: m.Y, Z: m.Z})
	case protocol.TypePlayerLeft:
		var m protocol.PlayerLeftMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		r.ApplyLeft(m.ID)
	case protocol.TypeBlockRemoved, protocol.TypeBlockPlaced:
		var m protocol.BlockMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		c := terrain.Vec3i{X: m.X, Y: m.Y, Z: m.Z}
		if base.Type == protocol.TypeBlockRemoved {
			r.ApplyRemoved(c)
		} else {
			r.ApplyPlaced(c)
		}
	}
	return nil
}
