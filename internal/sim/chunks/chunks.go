// Package chunks partitions the world into square columns of ChunkSize×ChunkSize
// and streams them around a focus point. A Manager is not safe for concurrent
// use; it belongs to the goroutine that owns the world (server) or the replica
// (client).
package chunks

import (
	"math"
	"sort"

	"voxelshare.dev/internal/sim/terrain"
)

const (
	DefaultChunkSize      = 16
	DefaultRenderDistance = 2

	// Unbounded disables streaming: chunks are only generated on demand and
	// never evicted.
	Unbounded = -1
)

type Key struct {
	CX int `json:"cx"`
	CZ int `json:"cz"`
}

// Chebyshev is max(|Δcx|, |Δcz|), the square streaming window metric.
func Chebyshev(a, b Key) int {
	dx := terrain.AbsInt(a.CX - b.CX)
	dz := terrain.AbsInt(a.CZ - b.CZ)
	if dx > dz {
		return dx
	}
	return dz
}

// Record is the natural block set of one chunk, stored per column as the top
// solid y (-1 for an empty column).
type Record struct {
	Key  Key
	Size int

	tops  []int
	count int
}

func generate(k Key, size int) *Record {
	r := &Record{
		Key:  k,
		Size: size,
		tops: make([]int, size*size),
	}
	for lz := 0; lz < size; lz++ {
		for lx := 0; lx < size; lx++ {
			col := terrain.Column(k.CX*size+lx, k.CZ*size+lz)
			r.tops[lx+lz*size] = len(col) - 1
			r.count += len(col)
		}
	}
	return r
}

// Has reports natural membership for a coordinate inside this chunk.
func (r *Record) Has(c terrain.Vec3i) bool {
	if c.Y < 0 {
		return false
	}
	lx := terrain.Mod(c.X, r.Size)
	lz := terrain.Mod(c.Z, r.Size)
	return c.Y <= r.tops[lx+lz*r.Size]
}

// Top returns the highest natural y of the column at world (x, z).
func (r *Record) Top(x, z int) int {
	return r.tops[terrain.Mod(x, r.Size)+terrain.Mod(z, r.Size)*r.Size]
}

// Count is the number of natural blocks in the chunk.
func (r *Record) Count() int { return r.count }

// Each calls fn for every natural block, x fastest then z then y.
func (r *Record) Each(fn func(c terrain.Vec3i)) {
	for lz := 0; lz < r.Size; lz++ {
		for lx := 0; lx < r.Size; lx++ {
			top := r.tops[lx+lz*r.Size]
			for y := 0; y <= top; y++ {
				fn(terrain.Vec3i{X: r.Key.CX*r.Size + lx, Y: y, Z: r.Key.CZ*r.Size + lz})
			}
		}
	}
}

// Blocks materializes the natural block set.
func (r *Record) Blocks() []terrain.Vec3i {
	out := make([]terrain.Vec3i, 0, r.count)
	r.Each(func(c terrain.Vec3i) { out = append(out, c) })
	return out
}

type Manager struct {
	size   int
	radius int

	records map[Key]*Record

	focus    Key
	hasFocus bool

	onLoad  []func(*Record)
	onEvict []func(*Record)
}

func NewManager(size, radius int) *Manager {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Manager{
		size:    size,
		radius:  radius,
		records: map[Key]*Record{},
	}
}

func (m *Manager) ChunkSize() int      { return m.size }
func (m *Manager) RenderDistance() int { return m.radius }
func (m *Manager) Len() int            { return len(m.records) }

// OnLoad registers fn to run after a chunk is generated.
func (m *Manager) OnLoad(fn func(*Record)) { m.onLoad = append(m.onLoad, fn) }

// OnEvict registers fn to run when a chunk leaves the window, so render or
// raycast indexes can release its coordinates.
func (m *Manager) OnEvict(fn func(*Record)) { m.onEvict = append(m.onEvict, fn) }

func (m *Manager) KeyFor(x, z int) Key {
	return Key{CX: terrain.FloorDiv(x, m.size), CZ: terrain.FloorDiv(z, m.size)}
}

func (m *Manager) KeyForPos(x, z float64) Key {
	s := float64(m.size)
	return Key{CX: int(math.Floor(x / s)), CZ: int(math.Floor(z / s))}
}

func (m *Manager) Get(k Key) (*Record, bool) {
	r, ok := m.records[k]
	return r, ok
}

// GetOrGenerate returns the cached record for k, generating it on first use.
func (m *Manager) GetOrGenerate(k Key) *Record {
	if r, ok := m.records[k]; ok {
		return r
	}
	r := generate(k, m.size)
	m.records[k] = r
	for _, fn := range m.onLoad {
		fn(r)
	}
	return r
}

// Natural resolves natural membership, generating the owning chunk if needed.
func (m *Manager) Natural(c terrain.Vec3i) bool {
	return m.GetOrGenerate(m.KeyFor(c.X, c.Z)).Has(c)
}

// LoadedNatural reports natural membership without generating anything; ok is
// false when the owning chunk is not loaded.
func (m *Manager) LoadedNatural(c terrain.Vec3i) (natural, ok bool) {
	r, ok := m.records[m.KeyFor(c.X, c.Z)]
	if !ok {
		return false, false
	}
	return r.Has(c), true
}

func (m *Manager) IsLoaded(k Key) bool {
	_, ok := m.records[k]
	return ok
}

// EnsureLoaded generates every chunk within RenderDistance (Chebyshev) of the
// focus chunk and evicts every chunk farther away. Calling it again with a
// focus inside the same chunk does nothing.
func (m *Manager) EnsureLoaded(focusX, focusZ float64) (loaded, evicted []Key) {
	if m.radius < 0 {
		return nil, nil
	}
	fk := m.KeyForPos(focusX, focusZ)
	if m.hasFocus && fk == m.focus {
		return nil, nil
	}
	m.focus = fk
	m.hasFocus = true

	for dx := -m.radius; dx <= m.radius; dx++ {
		for dz := -m.radius; dz <= m.radius; dz++ {
			k := Key{CX: fk.CX + dx, CZ: fk.CZ + dz}
			if _, ok := m.records[k]; ok {
				continue
			}
			m.GetOrGenerate(k)
			loaded = append(loaded, k)
		}
	}
	for _, k := range m.Loaded() {
		if Chebyshev(k, fk) > m.radius {
			m.Evict(k)
			evicted = append(evicted, k)
		}
	}
	return loaded, evicted
}

// Evict drops a chunk. It never touches mutation history, which lives outside
// the manager.
func (m *Manager) Evict(k Key) bool {
	r, ok := m.records[k]
	if !ok {
		return false
	}
	delete(m.records, k)
	for _, fn := range m.onEvict {
		fn(r)
	}
	return true
}

// Loaded returns loaded chunk keys sorted by (cx, cz).
func (m *Manager) Loaded() []Key {
	keys := make([]Key, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}
