package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelshare.dev/internal/protocol"
	"voxelshare.dev/internal/sim/terrain"
	"voxelshare.dev/internal/sim/world"
)

const (
	writeWait = 5 * time.Second
	readWait  = 60 * time.Second
)

// ConnRecorder counts handshake outcomes. Optional.
type ConnRecorder interface {
	Connection(outcome string)
}

type Server struct {
	world     *world.World
	log       *log.Logger
	validator *protocol.Validator
	recorder  ConnRecorder

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) (*Server, error) {
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	s := &Server{
		world:     w,
		log:       logger,
		validator: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s, nil
}

func (s *Server) SetRecorder(r ConnRecorder) { s.recorder = r }

func (s *Server) count(outcome string) {
	if s.recorder != nil {
		s.recorder.Connection(outcome)
	}
}

// Handler upgrades the request, joins the world and relays messages until
// either side closes. There is no client hello: the connection itself is the
// join request.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.count("upgrade_failed")
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		id := uuid.NewString()
		out := make(chan []byte, s.world.ClientQueue())
		resp, err := s.world.Join(ctx, world.JoinRequest{ID: id, Out: out})
		if err != nil {
			s.count("join_failed")
			s.log.Printf("join %s: %v", id, err)
			s.world.Leave(id)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "join failed"), time.Now().Add(time.Second))
			return
		}
		s.count("ok")
		// Whatever happens below, the world must hear about the disconnect.
		defer s.world.Leave(id)

		// init goes out before the writer starts so it is always first.
		if err := writeJSON(conn, resp.Init); err != nil {
			return
		}

		go s.writeLoop(ctx, cancel, conn, out)
		s.readLoop(ctx, conn, id)
		cancel()
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-out:
			if !ok {
				// The world dropped us (leave or lagging): close the socket so
				// the reader unblocks.
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, protocol.ErrLagging), time.Now().Add(time.Second))
				cancel()
				_ = conn.Close()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				cancel()
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, id string) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, ok := s.decode(id, msg)
		if !ok {
			continue
		}
		if err := s.world.Submit(ctx, env); err != nil {
			return
		}
	}
}

// decode validates and converts one client message. Invalid input is logged
// and dropped; it never closes the connection.
func (s *Server) decode(id string, msg []byte) (world.ActionEnvelope, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || !protocol.IsClientType(base.Type) {
		s.log.Printf("drop msg from %s: bad type", id)
		return world.ActionEnvelope{}, false
	}
	if err := s.validator.Validate(base.Type, msg); err != nil {
		s.log.Printf("drop %s from %s: %v", base.Type, id, err)
		return world.ActionEnvelope{}, false
	}

	env := world.ActionEnvelope{PlayerID: id, Type: base.Type}
	switch base.Type {
	case protocol.TypeMove:
		var m protocol.MoveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return world.ActionEnvelope{}, false
		}
		env.Pos = terrain.Vec3f{X: m.X, Y: m.Y, Z: m.Z}
	default:
		var m protocol.BlockMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return world.ActionEnvelope{}, false
		}
		env.Block = terrain.Vec3i{X: m.X, Y: m.Y, Z: m.Z}
	}
	return env, true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
