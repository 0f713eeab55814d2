package world

import (
	"encoding/json"

	"voxelshare.dev/internal/protocol"
	"voxelshare.dev/internal/sim/terrain"
)

// HandleJoin registers a player at the spawn point, announces it to everyone
// else and returns the init snapshot for the joiner.
func (w *World) HandleJoin(req JoinRequest) JoinResponse {
	if req.ID == "" {
		req.ID = w.newPlayerID()
	}
	if _, ok := w.players[req.ID]; ok {
		return JoinResponse{Err: ErrDuplicateID}
	}

	spawn := terrain.SpawnPos()
	w.players[req.ID] = &Player{ID: req.ID, Pos: spawn}
	w.broadcast(protocol.PlayerMsg{
		Type: protocol.TypePlayerJoined,
		ID:   req.ID,
		X:    spawn.X,
		Y:    spawn.Y,
		Z:    spawn.Z,
	}, req.ID)
	if req.Out != nil {
		w.clients[req.ID] = &clientState{Out: req.Out}
	}
	w.log.Printf("join id=%s spawn=(%.0f,%.0f,%.0f) players=%d", req.ID, spawn.X, spawn.Y, spawn.Z, len(w.players))

	init := protocol.InitMsg{
		Type:    protocol.TypeInit,
		ID:      req.ID,
		Players: w.roster(),
		Overlay: w.Overlay(),
		Params:  w.Params(),
	}
	w.drainKicks()
	return JoinResponse{Init: init}
}

// HandleMove overwrites the player's position and fans it out.
//
// Known limitation: the server trusts the reported position. No motion
// validation is performed; this is a trust boundary, not an oversight.
func (w *World) HandleMove(id string, pos terrain.Vec3f) {
	p, ok := w.players[id]
	if !ok {
		return
	}
	p.Pos = pos
	w.broadcast(protocol.PlayerMsg{
		Type: protocol.TypePlayerMoved,
		ID:   id,
		X:    pos.X,
		Y:    pos.Y,
		Z:    pos.Z,
	}, id)
	w.drainKicks()
}

// HandleLeave removes the player and notifies all remaining connections. A
// second leave for the same id is a no-op.
func (w *World) HandleLeave(id string) {
	w.disconnect(id, "")
	w.drainKicks()
}

func (w *World) disconnect(id, reason string) {
	if _, ok := w.players[id]; !ok {
		return
	}
	delete(w.players, id)
	if c, ok := w.clients[id]; ok {
		delete(w.clients, id)
		if !c.closed {
			c.closed = true
			close(c.Out)
		}
	}
	if reason != "" {
		w.log.Printf("drop id=%s reason=%s", id, reason)
		if w.recorder != nil {
			w.recorder.ClientDropped(reason)
		}
	} else {
		w.log.Printf("leave id=%s players=%d", id, len(w.players))
	}
	w.broadcast(protocol.PlayerLeftMsg{Type: protocol.TypePlayerLeft, ID: id}, "")
}

// Players returns a copy of the roster.
func (w *World) Players() map[string]terrain.Vec3f {
	out := make(map[string]terrain.Vec3f, len(w.players))
	for id, p := range w.players {
		out[id] = p.Pos
	}
	return out
}

func (w *World) roster() map[string]protocol.PlayerPos {
	out := make(map[string]protocol.PlayerPos, len(w.players))
	for id, p := range w.players {
		out[id] = protocol.PlayerPos{X: p.Pos.X, Y: p.Pos.Y, Z: p.Pos.Z}
	}
	return out
}

// broadcast sends v to every client except the one with id except (empty
// means everyone). Sends never block: a client whose queue is full is queued
// for disconnect, handled by drainKicks once the current request is done.
func (w *World) broadcast(v any, except string) {
	if len(w.clients) == 0 {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		w.log.Printf("broadcast marshal: %v", err)
		return
	}
	for id, c := range w.clients {
		if id == except || c.closed {
			continue
		}
		if !trySend(c.Out, b) {
			c.closed = true
			close(c.Out)
			w.kicks = append(w.kicks, id)
		}
	}
}

func (w *World) sendTo(id string, v any) {
	c, ok := w.clients[id]
	if !ok || c.closed {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		w.log.Printf("send marshal: %v", err)
		return
	}
	if !trySend(c.Out, b) {
		c.closed = true
		close(c.Out)
		w.kicks = append(w.kicks, id)
	}
}

func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}

// drainKicks disconnects lagging clients. Each disconnect broadcasts
// playerLeft, which may itself overflow other queues, so loop until stable.
func (w *World) drainKicks() {
	for len(w.kicks) > 0 {
		id := w.kicks[0]
		w.kicks = w.kicks[1:]
		w.disconnect(id, protocol.ErrLagging)
	}
}
