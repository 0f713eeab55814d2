package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelshare.dev/internal/protocol"
	"voxelshare.dev/internal/sim/terrain"
	"voxelshare.dev/internal/sim/world"
)

func startServer(t *testing.T) (*world.World, string) {
	t.Helper()
	w := world.New(world.WorldConfig{ID: "test", ClientQueue: 64}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	s, err := NewServer(w, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", s.Handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-w.Done()
	})
	return w, "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
}

func dial(t *testing.T, url string) (*websocket.Conn, protocol.InitMsg) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	var init protocol.InitMsg
	raw := readType(t, conn, protocol.TypeInit)
	if err := json.Unmarshal(raw, &init); err != nil {
		t.Fatalf("decode init: %v", err)
	}
	return conn, init
}

// readType reads until a message of type typ arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == typ {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWS_EndToEnd(t *testing.T) {
	w, url := startServer(t)

	a, initA := dial(t, url)
	if initA.ID == "" || initA.Params.PermDigest != terrain.PermDigest() {
		t.Fatalf("init A: %+v", initA)
	}
	b, initB := dial(t, url)
	if len(initB.Players) != 2 {
		t.Fatalf("init B roster: %+v", initB.Players)
	}

	var joined protocol.PlayerMsg
	_ = json.Unmarshal(readType(t, a, protocol.TypePlayerJoined), &joined)
	if joined.ID != initB.ID || joined.Y != float64(terrain.SpawnY()) {
		t.Fatalf("playerJoined: %+v", joined)
	}

	// Malformed input is dropped without closing the connection.
	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"type":"removeBlock","x":"a","y":1,"z":0}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	send(t, a, protocol.BlockMsg{Type: protocol.TypeRemoveBlock, X: 0, Y: 2, Z: 0})

	var removed protocol.BlockMsg
	_ = json.Unmarshal(readType(t, b, protocol.TypeBlockRemoved), &removed)
	if removed.X != 0 || removed.Y != 2 || removed.Z != 0 {
		t.Fatalf("blockRemoved: %+v", removed)
	}

	send(t, b, protocol.BlockMsg{Type: protocol.TypePlaceBlockRequest, X: 3, Y: 40, Z: 3})
	for _, c := range []*websocket.Conn{a, b} {
		var placed protocol.BlockMsg
		_ = json.Unmarshal(readType(t, c, protocol.TypeBlockPlaced), &placed)
		if placed.X != 3 || placed.Y != 40 || placed.Z != 3 {
			t.Fatalf("blockPlaced: %+v", placed)
		}
	}

	send(t, a, protocol.MoveMsg{Type: protocol.TypeMove, X: 1.5, Y: 9, Z: -2})
	var moved protocol.PlayerMsg
	_ = json.Unmarshal(readType(t, b, protocol.TypePlayerMoved), &moved)
	if moved.ID != initA.ID || moved.X != 1.5 {
		t.Fatalf("playerMoved: %+v", moved)
	}

	_ = b.Close()
	var left protocol.PlayerLeftMsg
	_ = json.Unmarshal(readType(t, a, protocol.TypePlayerLeft), &left)
	if left.ID != initB.ID {
		t.Fatalf("playerLeft: %+v", left)
	}

	st, err := w.FreshStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Players != 1 || st.OverlaySize != 2 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestWS_LateJoinerSeesOverlay(t *testing.T) {
	_, url := startServer(t)

	a, _ := dial(t, url)
	send(t, a, protocol.BlockMsg{Type: protocol.TypeRemoveBlock, X: 0, Y: 1, Z: 0})
	// The placement confirmation shows both requests were applied.
	send(t, a, protocol.BlockMsg{Type: protocol.TypePlaceBlockRequest, X: 0, Y: 50, Z: 0})
	readType(t, a, protocol.TypeBlockPlaced)

	_, init := dial(t, url)
	if len(init.Overlay) != 2 {
		t.Fatalf("overlay: %+v", init.Overlay)
	}
	kinds := map[int]string{}
	for _, e := range init.Overlay {
		kinds[e.Y] = e.Kind
	}
	if kinds[1] != protocol.KindRemoved || kinds[50] != protocol.KindPlaced {
		t.Fatalf("overlay kinds: %+v", init.Overlay)
	}
}
