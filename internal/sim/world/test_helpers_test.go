package world

import (
	"encoding/json"
	"testing"

	"voxelshare.dev/internal/protocol"
	"voxelshare.dev/internal/sim/terrain"
)

var farAway = terrain.Vec3f{X: 10000, Y: 10000, Z: 10000}

func newTestWorld(t *testing.T) *World {
	t.Helper()
	return New(WorldConfig{ID: "test_world", ClientQueue: 64}, nil)
}

type testClient struct {
	ID   string
	Out  chan []byte
	Init protocol.InitMsg
}

func join(t *testing.T, w *World, id string, queue int) *testClient {
	t.Helper()
	out := make(chan []byte, queue)
	resp := w.HandleJoin(JoinRequest{ID: id, Out: out})
	if resp.Err != nil {
		t.Fatalf("join %s: %v", id, resp.Err)
	}
	return &testClient{ID: id, Out: out, Init: resp.Init}
}

type received struct {
	Type string
	Raw  []byte
}

// drain returns every message currently queued for c.
func (c *testClient) drain(t *testing.T) []received {
	t.Helper()
	var out []received
	for {
		select {
		case b, ok := <-c.Out:
			if !ok {
				return out
			}
			base, err := protocol.DecodeBase(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			out = append(out, received{Type: base.Type, Raw: b})
		default:
			return out
		}
	}
}

func countType(msgs []received, typ string) int {
	n := 0
	for _, m := range msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func decodeBlock(t *testing.T, r received) terrain.Vec3i {
	t.Helper()
	var m protocol.BlockMsg
	if err := json.Unmarshal(r.Raw, &m); err != nil {
		t.Fatalf("decode block: %v", err)
	}
	return terrain.Vec3i{X: m.X, Y: m.Y, Z: m.Z}
}

// ensureBlock makes c present without any player nearby.
func ensureBlock(t *testing.T, w *World, c terrain.Vec3i) {
	t.Helper()
	if w.Exists(c) {
		return
	}
	if out := w.RequestPlace(c, farAway); !out.Accepted {
		t.Fatalf("ensureBlock %+v: %+v", c, out)
	}
}

func ensureAir(t *testing.T, w *World, c terrain.Vec3i) {
	t.Helper()
	if !w.Exists(c) {
		return
	}
	if out := w.RequestRemove(c); !out.Accepted {
		t.Fatalf("ensureAir %+v: %+v", c, out)
	}
}
