package protocol

// Diff kinds carried in the init overlay.
const (
	KindRemoved = "removed"
	KindPlaced  = "placed"
)

// init (server -> client), sent once right after connect.
type InitMsg struct {
	Type    string               `json:"type"`
	ID      string               `json:"id"`
	Players map[string]PlayerPos `json:"players"`
	// Overlay is every coordinate whose state currently differs from natural
	// terrain. Clients regenerate terrain themselves and apply this on top.
	Overlay []OverlayEntry `json:"overlay"`
	Params  WorldParams    `json:"params"`
}

type PlayerPos struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type OverlayEntry struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Z    int    `json:"z"`
	Kind string `json:"kind"`
}

type WorldParams struct {
	ProtocolVersion string  `json:"protocol_version"`
	ChunkSize       int     `json:"chunk_size"`
	NoiseScale      float64 `json:"noise_scale"`
	NoiseAmplitude  int     `json:"noise_amplitude"`
	PermDigest      string  `json:"perm_digest"`
}

// playerJoined / playerMoved (server -> client).
type PlayerMsg struct {
	Type string  `json:"type"`
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

// playerLeft (server -> client).
type PlayerLeftMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// BlockMsg is blockRemoved / blockPlaced (server -> client) and removeBlock /
// placeBlockRequest (client -> server).
type BlockMsg struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Z    int    `json:"z"`
}

// move (client -> server). The position is not validated.
type MoveMsg struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}
