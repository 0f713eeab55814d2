package world

import (
	"context"
	"sync"
	"testing"
	"time"

	"voxelshare.dev/internal/protocol"
	"voxelshare.dev/internal/sim/terrain"
)

func TestRemove_BroadcastToOthersThenRejectDuplicate(t *testing.T) {
	w := newTestWorld(t)
	a := join(t, w, "A", 16)
	b := join(t, w, "B", 16)
	c := join(t, w, "C", 16)
	a.drain(t)
	b.drain(t)

	blk := terrain.Vec3i{X: 0, Y: 3, Z: 0}
	if out := w.HandleAction(ActionEnvelope{PlayerID: "A", Type: protocol.TypeRemoveBlock, Block: blk}); !out.Accepted {
		t.Fatalf("A remove: %+v", out)
	}
	out := w.HandleAction(ActionEnvelope{PlayerID: "B", Type: protocol.TypeRemoveBlock, Block: blk})
	if out.Accepted || out.Reason != protocol.RejectAlreadyAbsent {
		t.Fatalf("B remove: %+v", out)
	}

	if got := a.drain(t); len(got) != 0 {
		t.Fatalf("requester got %+v", got)
	}
	for _, cl := range []*testClient{b, c} {
		msgs := cl.drain(t)
		if len(msgs) != 1 || msgs[0].Type != protocol.TypeBlockRemoved {
			t.Fatalf("%s got %+v", cl.ID, msgs)
		}
		if got := decodeBlock(t, msgs[0]); got != blk {
			t.Fatalf("%s got block %+v", cl.ID, got)
		}
	}
}

func TestPlace_ConfirmsToRequesterAndBroadcasts(t *testing.T) {
	w := newTestWorld(t)
	a := join(t, w, "A", 16)
	b := join(t, w, "B", 16)
	a.drain(t)

	blk := terrain.Vec3i{X: 6, Y: 40, Z: 6}
	if out := w.HandleAction(ActionEnvelope{PlayerID: "A", Type: protocol.TypePlaceBlockRequest, Block: blk}); !out.Accepted {
		t.Fatalf("place: %+v", out)
	}
	for _, cl := range []*testClient{a, b} {
		msgs := cl.drain(t)
		if len(msgs) != 1 || msgs[0].Type != protocol.TypeBlockPlaced {
			t.Fatalf("%s got %+v", cl.ID, msgs)
		}
		if got := decodeBlock(t, msgs[0]); got != blk {
			t.Fatalf("%s got block %+v", cl.ID, got)
		}
	}
}

func TestPlace_OccupiedProducesNoBroadcast(t *testing.T) {
	w := newTestWorld(t)
	a := join(t, w, "A", 16)
	b := join(t, w, "B", 16)
	a.drain(t)

	blk := terrain.Vec3i{X: 0, Y: 1, Z: 0}
	out := w.HandleAction(ActionEnvelope{PlayerID: "A", Type: protocol.TypePlaceBlockRequest, Block: blk})
	if out.Accepted || out.Reason != protocol.RejectOccupied {
		t.Fatalf("place: %+v", out)
	}
	if got := append(a.drain(t), b.drain(t)...); len(got) != 0 {
		t.Fatalf("rejection broadcast %+v", got)
	}
}

func TestPlace_UsesRequesterStoredPosition(t *testing.T) {
	w := newTestWorld(t)
	join(t, w, "A", 16)
	pos := terrain.Vec3f{X: 0.5, Y: 20, Z: 0.5}
	w.HandleAction(ActionEnvelope{PlayerID: "A", Type: protocol.TypeMove, Pos: pos})

	out := w.HandleAction(ActionEnvelope{PlayerID: "A", Type: protocol.TypePlaceBlockRequest, Block: terrain.Vec3i{X: 0, Y: 20, Z: 0}})
	if out.Accepted || out.Reason != protocol.RejectIntersectsPlayer {
		t.Fatalf("place into self: %+v", out)
	}
}

func TestHandleAction_UnknownType(t *testing.T) {
	w := newTestWorld(t)
	join(t, w, "A", 4)
	out := w.HandleAction(ActionEnvelope{PlayerID: "A", Type: "teleport"})
	if out.Accepted || out.Reason != protocol.ErrProtoBadRequest {
		t.Fatalf("out = %+v", out)
	}
}

type memAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (m *memAudit) WriteAudit(e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func TestAudit_RecordsAcceptedAndRejected(t *testing.T) {
	w := newTestWorld(t)
	al := &memAudit{}
	w.SetAuditLogger(al)
	join(t, w, "A", 16)

	blk := terrain.Vec3i{X: 0, Y: 2, Z: 0}
	w.HandleAction(ActionEnvelope{PlayerID: "A", Type: protocol.TypeRemoveBlock, Block: blk})
	w.HandleAction(ActionEnvelope{PlayerID: "A", Type: protocol.TypeRemoveBlock, Block: blk})
	w.HandleAction(ActionEnvelope{PlayerID: "A", Type: protocol.TypeMove, Pos: farAway})

	if len(al.entries) != 2 {
		t.Fatalf("entries = %+v", al.entries)
	}
	first, second := al.entries[0], al.entries[1]
	if !first.Accepted || first.Action != "REMOVE_BLOCK" || first.Pos != [3]int{0, 2, 0} || first.Actor != "A" {
		t.Fatalf("first = %+v", first)
	}
	if second.Accepted || second.Reason != protocol.RejectAlreadyAbsent || second.Seq != first.Seq+1 {
		t.Fatalf("second = %+v", second)
	}
	if first.World != "test_world" {
		t.Fatalf("world = %q", first.World)
	}
}

func startWorld(t *testing.T, w *World) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-w.Done()
	})
}

func TestRun_ConcurrentRemovesAcceptExactlyOne(t *testing.T) {
	w := newTestWorld(t)
	startWorld(t, w)
	ctx := context.Background()

	obs := make(chan []byte, 64)
	if _, err := w.Join(ctx, JoinRequest{ID: "observer", Out: obs}); err != nil {
		t.Fatalf("join observer: %v", err)
	}
	const n = 8
	for i := 0; i < n; i++ {
		if _, err := w.Join(ctx, JoinRequest{ID: string(rune('a' + i)), Out: make(chan []byte, 64)}); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	blk := terrain.Vec3i{X: 0, Y: 4, Z: 0}
	results := make(chan Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := w.Submit(ctx, ActionEnvelope{PlayerID: id, Type: protocol.TypeRemoveBlock, Block: blk, Result: results}); err != nil {
				t.Errorf("submit: %v", err)
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	acc := 0
	for i := 0; i < n; i++ {
		select {
		case out := <-results:
			if out.Accepted {
				acc++
			} else if out.Reason != protocol.RejectAlreadyAbsent {
				t.Fatalf("unexpected rejection %+v", out)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for outcomes")
		}
	}
	if acc != 1 {
		t.Fatalf("accepted = %d, want 1", acc)
	}

	removed := 0
	for len(obs) > 0 {
		b := <-obs
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == protocol.TypeBlockRemoved {
			removed++
		}
	}
	if removed != 1 {
		t.Fatalf("observer saw %d blockRemoved, want 1", removed)
	}
}

func TestRun_LeaveAfterActionsKeepsOrder(t *testing.T) {
	w := newTestWorld(t)
	startWorld(t, w)
	ctx := context.Background()

	obs := make(chan []byte, 64)
	if _, err := w.Join(ctx, JoinRequest{ID: "obs", Out: obs}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Join(ctx, JoinRequest{ID: "A", Out: make(chan []byte, 64)}); err != nil {
		t.Fatal(err)
	}
	blk := terrain.Vec3i{X: 0, Y: 1, Z: 0}
	if err := w.Submit(ctx, ActionEnvelope{PlayerID: "A", Type: protocol.TypeRemoveBlock, Block: blk}); err != nil {
		t.Fatal(err)
	}
	w.Leave("A")

	st, err := w.FreshStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Players != 1 || st.OverlaySize != 1 {
		t.Fatalf("stats = %+v", st)
	}

	var types []string
	for len(obs) > 0 {
		base, err := protocol.DecodeBase(<-obs)
		if err != nil {
			t.Fatal(err)
		}
		types = append(types, base.Type)
	}
	want := []string{protocol.TypePlayerJoined, protocol.TypeBlockRemoved, protocol.TypePlayerLeft}
	if len(types) != len(want) {
		t.Fatalf("observer got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("observer got %v, want %v", types, want)
		}
	}
}

func TestJoin_AfterStopReturnsError(t *testing.T) {
	w := newTestWorld(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	cancel()
	<-w.Done()

	if _, err := w.Join(context.Background(), JoinRequest{ID: "late"}); err == nil {
		t.Fatalf("join after stop should fail")
	}
}

func TestJoin_CancelledAfterEnqueueLeavesNoPlayer(t *testing.T) {
	w := newTestWorld(t)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := w.Join(ctx, JoinRequest{ID: "ghost", Out: make(chan []byte, 8)})
		errc <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(w.queue) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("join never queued")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errc; err != context.Canceled {
		t.Fatalf("join err = %v, want context.Canceled", err)
	}

	startWorld(t, w)
	for {
		s, err := w.FreshStats(context.Background())
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if s.Players == 0 && s.Clients == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("player still present: %+v", s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
