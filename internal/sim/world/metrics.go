package world

import "context"

// Stats is a read-only view of key world signals. It is updated from the world
// loop goroutine and read from HTTP handlers/tests.
type Stats struct {
	Players      int    `json:"players"`
	Clients      int    `json:"clients"`
	LoadedChunks int    `json:"loaded_chunks"`
	OverlaySize  int    `json:"overlay_size"`
	QueueDepth   int    `json:"queue_depth"`
	Requests     uint64 `json:"mutation_requests"`
}

func (w *World) snapshotStats() Stats {
	return Stats{
		Players:      len(w.players),
		Clients:      len(w.clients),
		LoadedChunks: w.chunks.Len(),
		OverlaySize:  len(w.toggled),
		QueueDepth:   len(w.queue),
		Requests:     w.seq.Load(),
	}
}

func (w *World) publishStats() { w.stats.Store(w.snapshotStats()) }

// Stats returns the last published snapshot (refreshed every StatsEvery).
func (w *World) Stats() Stats {
	if w == nil {
		return Stats{}
	}
	s, _ := w.stats.Load().(Stats)
	s.QueueDepth = len(w.queue)
	return s
}

// FreshStats asks the world loop for a current snapshot.
func (w *World) FreshStats(ctx context.Context) (Stats, error) {
	ch := make(chan Stats, 1)
	if err := w.enqueue(ctx, queued{stats: ch}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-w.done:
		return Stats{}, ErrStopped
	}
}
