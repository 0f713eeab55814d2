package world

import (
	"context"
	"fmt"
	"time"

	"voxelshare.dev/internal/protocol"
)

// Run processes joins, leaves and actions one at a time in arrival order until
// ctx is cancelled or Stop is called. Joins, leaves and actions share one
// queue so a connection's leave can never overtake its earlier requests.
func (w *World) Run(ctx context.Context) error {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.StatsEvery)
	defer ticker.Stop()
	w.publishStats()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case q := <-w.queue:
			switch {
			case q.join != nil:
				resp := w.HandleJoin(*q.join)
				if q.join.Resp != nil {
					q.join.Resp <- resp
				}
			case q.action != nil:
				out := w.HandleAction(*q.action)
				if q.action.Result != nil {
					q.action.Result <- out
				}
			case q.stats != nil:
				q.stats <- w.snapshotStats()
			default:
				w.HandleLeave(q.leave)
			}
		case <-ticker.C:
			w.publishStats()
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// Done is closed once Run has returned.
func (w *World) Done() <-chan struct{} { return w.done }

// Join enqueues a join and waits for the init snapshot.
func (w *World) Join(ctx context.Context, req JoinRequest) (JoinResponse, error) {
	resp := make(chan JoinResponse, 1)
	req.Resp = resp
	if err := w.enqueue(ctx, queued{join: &req}); err != nil {
		return JoinResponse{}, err
	}
	select {
	case r := <-resp:
		return r, r.Err
	case <-ctx.Done():
		// The join is already queued. Undo it once it lands so the caller,
		// which never learns the outcome, leaves no player behind.
		go func() {
			select {
			case r := <-resp:
				if r.Err == nil {
					w.Leave(r.Init.ID)
				}
			case <-w.done:
			}
		}()
		return JoinResponse{}, ctx.Err()
	case <-w.done:
		return JoinResponse{}, ErrStopped
	}
}

// Leave enqueues a disconnect. It never blocks past world shutdown.
func (w *World) Leave(id string) {
	_ = w.enqueue(context.Background(), queued{leave: id})
}

// Submit enqueues a client action.
func (w *World) Submit(ctx context.Context, env ActionEnvelope) error {
	return w.enqueue(ctx, queued{action: &env})
}

func (w *World) enqueue(ctx context.Context, q queued) error {
	select {
	case w.queue <- q:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrStopped
	}
}

// HandleAction applies one client request. Rejections are silently dropped
// for the requester; accepted mutations are committed before being fanned out.
func (w *World) HandleAction(env ActionEnvelope) Outcome {
	p, ok := w.players[env.PlayerID]
	if !ok {
		// Unknown or already-disconnected id: no further events are accepted.
		return rejected(protocol.ErrProtoBadRequest)
	}

	var out Outcome
	switch env.Type {
	case protocol.TypeMove:
		w.HandleMove(env.PlayerID, env.Pos)
		return accepted

	case protocol.TypeRemoveBlock:
		out = w.RequestRemove(env.Block)
		w.audit(env, "REMOVE_BLOCK", out)
		if out.Accepted {
			// The requester already removed it locally.
			w.broadcast(protocol.BlockMsg{Type: protocol.TypeBlockRemoved, X: env.Block.X, Y: env.Block.Y, Z: env.Block.Z}, env.PlayerID)
		}

	case protocol.TypePlaceBlockRequest:
		out = w.RequestPlace(env.Block, p.Pos)
		w.audit(env, "PLACE_BLOCK", out)
		if out.Accepted {
			msg := protocol.BlockMsg{Type: protocol.TypeBlockPlaced, X: env.Block.X, Y: env.Block.Y, Z: env.Block.Z}
			w.broadcast(msg, env.PlayerID)
			// Placement is not optimistic on the client, so the requester
			// gets the same diff as its confirmation.
			w.sendTo(env.PlayerID, msg)
		}

	default:
		return rejected(protocol.ErrProtoBadRequest)
	}

	w.drainKicks()
	return out
}

func (w *World) audit(env ActionEnvelope, action string, out Outcome) {
	seq := w.seq.Add(1)
	if w.recorder != nil {
		w.recorder.Mutation(action, out.Reason)
	}
	if w.auditLogger == nil {
		return
	}
	entry := AuditEntry{
		Seq:      seq,
		World:    w.cfg.ID,
		Run:      w.cfg.RunID,
		Actor:    env.PlayerID,
		Action:   action,
		Pos:      [3]int{env.Block.X, env.Block.Y, env.Block.Z},
		Accepted: out.Accepted,
		Reason:   out.Reason,
		UnixMs:   time.Now().UnixMilli(),
	}
	if err := w.auditLogger.WriteAudit(entry); err != nil {
		w.log.Printf("audit: %v", err)
	}
}

func (w *World) newPlayerID() string {
	n := w.nextPlayerNum.Add(1)
	return fmt.Sprintf("P%06d", n)
}
