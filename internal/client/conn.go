package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxelshare.dev/internal/protocol"
	"voxelshare.dev/internal/sim/terrain"
)

// Conn is a websocket session bound to a Replica.
type Conn struct {
	ws      *websocket.Conn
	replica *Replica

	wmu sync.Mutex
}

// Dial connects, waits for init and applies it. renderDistance is the
// replica's chunk radius.
func Dial(ctx context.Context, url string, renderDistance int) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("read init: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	var init protocol.InitMsg
	if err := json.Unmarshal(raw, &init); err != nil || init.Type != protocol.TypeInit {
		_ = ws.Close()
		return nil, fmt.Errorf("expected init, got %.64q", raw)
	}
	r := NewReplica(renderDistance)
	if err := r.ApplyInit(init); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return &Conn{ws: ws, replica: r}, nil
}

func (c *Conn) Replica() *Replica { return c.replica }

func (c *Conn) ID() string {
	id, _ := c.replica.Self()
	return id
}

// Run applies server messages to the replica until the connection closes or
// ctx is done. onMsg, if set, sees each message type after it is applied.
func (c *Conn) Run(ctx context.Context, onMsg func(typ string)) error {
	stop := context.AfterFunc(ctx, func() { _ = c.ws.Close() })
	defer stop()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := c.replica.HandleMessage(raw); err != nil {
			return err
		}
		if onMsg != nil {
			if base, err := protocol.DecodeBase(raw); err == nil {
				onMsg(base.Type)
			}
		}
	}
}

// RemoveBlock removes c locally and asks the server to commit it. It returns
// false without sending if c is not visible.
func (c *Conn) RemoveBlock(b terrain.Vec3i) (bool, error) {
	msg, ok := c.replica.RemoveLocal(b)
	if !ok {
		return false, nil
	}
	return true, c.send(msg)
}

// PlaceBlock sends a placement request; the block appears once confirmed.
func (c *Conn) PlaceBlock(b terrain.Vec3i) error {
	return c.send(c.replica.RequestPlace(b))
}

func (c *Conn) Move(pos terrain.Vec3f) error {
	return c.send(c.replica.MoveTo(pos))
}

func (c *Conn) send(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteJSON(v)
}

func (c *Conn) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}
