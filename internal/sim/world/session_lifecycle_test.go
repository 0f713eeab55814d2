package world

import (
	"encoding/json"
	"testing"

	"voxelshare.dev/internal/protocol"
	"voxelshare.dev/internal/sim/terrain"
)

func TestJoin_InitCarriesRosterOverlayAndParams(t *testing.T) {
	w := newTestWorld(t)
	a := join(t, w, "A", 16)
	ensureAir(t, w, terrain.Vec3i{X: 0, Y: 2, Z: 0})

	b := join(t, w, "B", 16)
	if b.Init.Type != protocol.TypeInit || b.Init.ID != "B" {
		t.Fatalf("init header: %+v", b.Init)
	}
	if len(b.Init.Players) != 2 {
		t.Fatalf("roster = %+v", b.Init.Players)
	}
	if p := b.Init.Players["B"]; p.Y != float64(terrain.SpawnY()) || p.X != 0 || p.Z != 0 {
		t.Fatalf("spawn = %+v", p)
	}
	if len(b.Init.Overlay) != 1 || b.Init.Overlay[0].Kind != protocol.KindRemoved {
		t.Fatalf("overlay = %+v", b.Init.Overlay)
	}
	params := b.Init.Params
	if params.ProtocolVersion != protocol.Version || params.ChunkSize != 16 ||
		params.NoiseScale != terrain.Scale || params.NoiseAmplitude != terrain.Amplitude ||
		params.PermDigest != terrain.PermDigest() {
		t.Fatalf("params = %+v", params)
	}

	msgs := a.drain(t)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypePlayerJoined {
		t.Fatalf("A got %+v", msgs)
	}
	var pj protocol.PlayerMsg
	if err := json.Unmarshal(msgs[0].Raw, &pj); err != nil || pj.ID != "B" {
		t.Fatalf("playerJoined = %+v err=%v", pj, err)
	}
	if got := b.drain(t); len(got) != 0 {
		t.Fatalf("joiner should not hear its own join: %+v", got)
	}
}

func TestJoin_DuplicateIDRejected(t *testing.T) {
	w := newTestWorld(t)
	join(t, w, "A", 4)
	resp := w.HandleJoin(JoinRequest{ID: "A", Out: make(chan []byte, 4)})
	if resp.Err != ErrDuplicateID {
		t.Fatalf("err = %v, want ErrDuplicateID", resp.Err)
	}
	if len(w.Players()) != 1 {
		t.Fatalf("players = %d", len(w.Players()))
	}
}

func TestJoin_AssignsIDWhenEmpty(t *testing.T) {
	w := newTestWorld(t)
	r1 := w.HandleJoin(JoinRequest{})
	r2 := w.HandleJoin(JoinRequest{})
	if r1.Init.ID == "" || r1.Init.ID == r2.Init.ID {
		t.Fatalf("ids %q %q", r1.Init.ID, r2.Init.ID)
	}
}

func TestMove_BroadcastToOthersOnly(t *testing.T) {
	w := newTestWorld(t)
	a := join(t, w, "A", 16)
	b := join(t, w, "B", 16)
	a.drain(t)

	pos := terrain.Vec3f{X: 3.5, Y: 7, Z: -2.25}
	if out := w.HandleAction(ActionEnvelope{PlayerID: "A", Type: protocol.TypeMove, Pos: pos}); !out.Accepted {
		t.Fatalf("move: %+v", out)
	}
	if got := w.Players()["A"]; got != pos {
		t.Fatalf("pos = %+v", got)
	}
	if got := a.drain(t); len(got) != 0 {
		t.Fatalf("mover got %+v", got)
	}
	msgs := b.drain(t)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypePlayerMoved {
		t.Fatalf("B got %+v", msgs)
	}
	var pm protocol.PlayerMsg
	if err := json.Unmarshal(msgs[0].Raw, &pm); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pm.ID != "A" || pm.X != pos.X || pm.Y != pos.Y || pm.Z != pos.Z {
		t.Fatalf("playerMoved = %+v", pm)
	}
}

func TestLeave_AnnouncedOnceAndIdempotent(t *testing.T) {
	w := newTestWorld(t)
	a := join(t, w, "A", 16)
	b := join(t, w, "B", 16)
	a.drain(t)

	w.HandleLeave("B")
	w.HandleLeave("B")

	msgs := a.drain(t)
	if countType(msgs, protocol.TypePlayerLeft) != 1 {
		t.Fatalf("A got %+v", msgs)
	}
	if _, ok := <-b.Out; ok {
		t.Fatalf("B's queue should be closed")
	}
	if _, ok := w.Players()["B"]; ok {
		t.Fatalf("B still in roster")
	}

	c := terrain.Vec3i{X: 0, Y: 1, Z: 0}
	out := w.HandleAction(ActionEnvelope{PlayerID: "B", Type: protocol.TypeRemoveBlock, Block: c})
	if out.Accepted || out.Reason != protocol.ErrProtoBadRequest {
		t.Fatalf("action after leave: %+v", out)
	}
	if !w.Exists(c) {
		t.Fatalf("action after leave mutated the world")
	}
}

func TestLaggingClientIsDisconnected(t *testing.T) {
	w := newTestWorld(t)
	a := join(t, w, "A", 16)
	b := join(t, w, "B", 1)
	a.drain(t)

	w.HandleAction(ActionEnvelope{PlayerID: "A", Type: protocol.TypeMove, Pos: terrain.Vec3f{X: 1, Y: 9, Z: 1}})
	w.HandleAction(ActionEnvelope{PlayerID: "A", Type: protocol.TypeMove, Pos: terrain.Vec3f{X: 2, Y: 9, Z: 1}})

	if _, ok := w.Players()["B"]; ok {
		t.Fatalf("lagging client still in roster")
	}
	// One buffered message, then closed.
	n := 0
	for range b.Out {
		n++
	}
	if n != 1 {
		t.Fatalf("B received %d messages before close, want 1", n)
	}
	msgs := a.drain(t)
	if countType(msgs, protocol.TypePlayerLeft) != 1 {
		t.Fatalf("A got %+v", msgs)
	}

	// The transport's own leave arrives later and must be harmless.
	w.HandleLeave("B")
	if got := a.drain(t); len(got) != 0 {
		t.Fatalf("late leave produced %+v", got)
	}
}

type fakeRecorder struct {
	mutations map[string]int
	drops     map[string]int
}

func (r *fakeRecorder) Mutation(action, reason string) {
	if r.mutations == nil {
		r.mutations = map[string]int{}
	}
	r.mutations[action+"/"+reason]++
}

func (r *fakeRecorder) ClientDropped(reason string) {
	if r.drops == nil {
		r.drops = map[string]int{}
	}
	r.drops[reason]++
}

func TestRecorder_SeesDrops(t *testing.T) {
	w := newTestWorld(t)
	rec := &fakeRecorder{}
	w.SetRecorder(rec)
	join(t, w, "A", 16)
	join(t, w, "B", 0)

	w.HandleAction(ActionEnvelope{PlayerID: "A", Type: protocol.TypeMove, Pos: terrain.Vec3f{Y: 9}})
	if rec.drops[protocol.ErrLagging] != 1 {
		t.Fatalf("drops = %+v", rec.drops)
	}
	w.HandleLeave("A")
	if len(rec.drops) != 1 {
		t.Fatalf("voluntary leave counted as drop: %+v", rec.drops)
	}
}
