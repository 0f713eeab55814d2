package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelshare.dev/internal/sim/world"
)

// SQLiteIndex is a queryable copy of the mutation audit trail. Writes are
// queued to a single writer goroutine and batched into transactions; the
// JSONL audit log stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan world.AuditEntry
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
}

// Stats reports writer queue health.
type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Dropped       uint64
}

// Mutation is one row of the mutations table.
type Mutation struct {
	Seq      uint64
	World    string
	Run      string
	Actor    string
	Action   string
	X, Y, Z  int
	Accepted bool
	Reason   string
	UnixMs   int64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan world.AuditEntry, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS mutations (
			world TEXT NOT NULL,
			run TEXT NOT NULL DEFAULT '',
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			accepted INTEGER NOT NULL,
			reason TEXT,
			unix_ms INTEGER NOT NULL,
			PRIMARY KEY (world, run, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mutations_actor ON mutations(actor);`,
		`CREATE INDEX IF NOT EXISTS idx_mutations_pos ON mutations(x, z, y);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// WriteAudit queues e for insertion. It drops the entry rather than block
// when the writer falls behind.
func (s *SQLiteIndex) WriteAudit(e world.AuditEntry) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		Dropped:       s.dropped.Load(),
	}
}

// Close flushes pending writes and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// History returns the mutations recorded at one coordinate, oldest first.
// Rows are inserted in commit order across runs, so rowid orders them.
func (s *SQLiteIndex) History(ctx context.Context, x, y, z int) ([]Mutation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq,world,run,actor,action,x,y,z,accepted,COALESCE(reason,''),unix_ms
		 FROM mutations WHERE x=? AND y=? AND z=? ORDER BY rowid`, x, y, z)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Mutation
	for rows.Next() {
		var m Mutation
		var acc int
		if err := rows.Scan(&m.Seq, &m.World, &m.Run, &m.Actor, &m.Action, &m.X, &m.Y, &m.Z, &acc, &m.Reason, &m.UnixMs); err != nil {
			return nil, err
		}
		m.Accepted = acc != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountByActor returns how many accepted mutations each actor made.
func (s *SQLiteIndex) CountByActor(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT actor, COUNT(*) FROM mutations WHERE accepted=1 GROUP BY actor`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var actor string
		var n int
		if err := rows.Scan(&actor, &n); err != nil {
			return nil, err
		}
		out[actor] = n
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// A repeated (world, run, seq) is a re-delivery of a row already stored.
	insert, _ := s.db.Prepare(`INSERT OR IGNORE INTO mutations(world,run,seq,actor,action,x,y,z,accepted,reason,unix_ms) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		lastCommit  = time.Now()
		commitEvery = 500
		commitWait  = time.Second
	)
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for e := range s.ch {
		if insert == nil {
			continue
		}
		if tx == nil {
			txx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			tx = txx
			lastCommit = time.Now()
		}
		acc := 0
		if e.Accepted {
			acc = 1
		}
		if _, err := tx.Stmt(insert).Exec(e.World, e.Run, int64(e.Seq), e.Actor, e.Action, e.Pos[0], e.Pos[1], e.Pos[2], acc, e.Reason, e.UnixMs); err != nil {
			_ = tx.Rollback()
			tx = nil
			opCount = 0
			continue
		}
		opCount++
		// Commit when the queue goes idle so readers see recent rows.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}
