package world

import (
	"errors"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voxelshare.dev/internal/protocol"
	"voxelshare.dev/internal/sim/chunks"
	"voxelshare.dev/internal/sim/terrain"
)

var (
	ErrStopped     = errors.New("world stopped")
	ErrDuplicateID = errors.New("player id already connected")
)

type WorldConfig struct {
	ID        string
	ChunkSize int
	// PlayerBox is width, height, depth of a player's bounding volume.
	PlayerBox   [3]float64
	InboxSize   int
	ClientQueue int
	// StatsEvery is how often Stats() is refreshed.
	StatsEvery time.Duration
	// RunID tags audit entries from this process. Seq restarts in every run,
	// so (World, Run, Seq) identifies an entry. Defaults to a random uuid.
	RunID string
}

type JoinRequest struct {
	ID   string
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	Init protocol.InitMsg
	Err  error
}

// ActionEnvelope is one decoded client request. Type is one of the protocol
// client message types.
type ActionEnvelope struct {
	PlayerID string
	Type     string
	Block    terrain.Vec3i
	Pos      terrain.Vec3f

	// Result, if set, receives the outcome once the action is applied.
	Result chan<- Outcome
}

type Player struct {
	ID  string
	Pos terrain.Vec3f
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// Recorder receives mutation outcomes and connection drops (metrics).
type Recorder interface {
	Mutation(action, reason string)
	ClientDropped(reason string)
}

type AuditEntry struct {
	Seq      uint64 `json:"seq"`
	World    string `json:"world"`
	Run      string `json:"run,omitempty"`
	Actor    string `json:"actor"`
	Action   string `json:"action"` // REMOVE_BLOCK | PLACE_BLOCK
	Pos      [3]int `json:"pos"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	UnixMs   int64  `json:"unix_ms"`
}

type clientState struct {
	Out    chan []byte
	closed bool
}

// World is the single authoritative owner of block state and the player
// roster. All state must be accessed only from the world loop goroutine, or
// before Run starts.
type World struct {
	cfg WorldConfig
	log *log.Logger

	chunks *chunks.Manager
	// toggled holds every coordinate whose existence differs from natural
	// terrain. Exists = natural XOR toggled.
	toggled map[terrain.Vec3i]struct{}
	// edits counts overlay entries per resident chunk.
	edits map[chunks.Key]int

	players map[string]*Player
	clients map[string]*clientState
	kicks   []string

	queue chan queued
	stop  chan struct{}
	done  chan struct{}

	seq           atomic.Uint64
	nextPlayerNum atomic.Uint64

	auditLogger AuditLogger
	recorder    Recorder

	stats atomic.Value // Stats
}

type queued struct {
	join   *JoinRequest
	leave  string
	action *ActionEnvelope
	stats  chan Stats
}

func New(cfg WorldConfig, logger *log.Logger) *World {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunks.DefaultChunkSize
	}
	if cfg.PlayerBox == ([3]float64{}) {
		cfg.PlayerBox = [3]float64{0.8, 1.8, 0.8}
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.ClientQueue <= 0 {
		cfg.ClientQueue = 256
	}
	if cfg.StatsEvery <= 0 {
		cfg.StatsEvery = time.Second
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w := &World{
		cfg:     cfg,
		log:     logger,
		chunks:  chunks.NewManager(cfg.ChunkSize, chunks.Unbounded),
		toggled: map[terrain.Vec3i]struct{}{},
		edits:   map[chunks.Key]int{},
		players: map[string]*Player{},
		clients: map[string]*clientState{},
		queue:   make(chan queued, cfg.InboxSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.stats.Store(Stats{})
	return w
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) RunID() string { return w.cfg.RunID }

func (w *World) SetAuditLogger(l AuditLogger) { w.auditLogger = l }
func (w *World) SetRecorder(r Recorder)       { w.recorder = r }

// ClientQueue is the outbound buffer size transports should allocate.
func (w *World) ClientQueue() int { return w.cfg.ClientQueue }

func (w *World) Params() protocol.WorldParams {
	return protocol.WorldParams{
		ProtocolVersion: protocol.Version,
		ChunkSize:       w.cfg.ChunkSize,
		NoiseScale:      terrain.Scale,
		NoiseAmplitude:  terrain.Amplitude,
		PermDigest:      terrain.PermDigest(),
	}
}
