package log

import (
	stdlog "log"
	"path/filepath"
	"sync"
	"sync/atomic"

	"voxelshare.dev/internal/sim/world"
)

// AuditLogger records block mutation outcomes. WriteAudit never blocks the
// caller: entries go through a buffered queue to a writer goroutine and are
// dropped (and counted) when the queue is full.
type AuditLogger struct {
	w   *HourlyWriter
	log *stdlog.Logger

	ch   chan world.AuditEntry
	wg   sync.WaitGroup
	once sync.Once

	// mu guards closed against a send racing Close.
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewAuditLogger writes under <worldDir>/audit.
func NewAuditLogger(worldDir string, queue int, logger *stdlog.Logger) *AuditLogger {
	if queue <= 0 {
		queue = 4096
	}
	l := &AuditLogger{
		w:   NewHourlyWriter(filepath.Join(worldDir, "audit"), "audit"),
		log: logger,
		ch:  make(chan world.AuditEntry, queue),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for e := range l.ch {
			if err := l.w.Append(e); err != nil && l.log != nil {
				l.log.Printf("audit append: %v", err)
				continue
			}
			l.written.Add(1)
		}
	}()
	return l
}

func (l *AuditLogger) WriteAudit(e world.AuditEntry) error {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil
	}
	select {
	case l.ch <- e:
	default:
		l.dropped.Add(1)
	}
	return nil
}

// Dropped is the number of entries discarded because the queue was full.
func (l *AuditLogger) Dropped() uint64 { return l.dropped.Load() }

func (l *AuditLogger) Written() uint64 { return l.written.Load() }

// Close drains the queue and closes the current file.
func (l *AuditLogger) Close() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.ch)
		l.mu.Unlock()
		l.wg.Wait()
		err = l.w.Close()
	})
	return err
}
