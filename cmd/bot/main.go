package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voxelshare.dev/internal/client"
	"voxelshare.dev/internal/sim/terrain"
	"voxelshare.dev/internal/sim/tuning"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		config   = flag.String("config", "", "tuning yaml shared with the server (empty: built-in defaults)")
		radius   = flag.Int("render_distance", -1, "chunk radius streamed around the bot (-1: from tuning)")
		every    = flag.Duration("every", 2*time.Second, "time between actions")
		seed     = flag.Int64("seed", 0, "rng seed (0: time based)")
		duration = flag.Duration("duration", 0, "stop after this long (0: run until interrupted)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		var c2 context.CancelFunc
		ctx, c2 = context.WithTimeout(ctx, *duration)
		defer c2()
	}

	rd, err := renderDistance(*config, *radius)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	conn, err := client.Dial(ctx, *url, rd)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	id, pos := conn.Replica().Self()
	logger.Printf("init id=%s spawn=(%.0f,%.0f,%.0f) players=%d overlay=%d",
		id, pos.X, pos.Y, pos.Z, len(conn.Replica().Players()), conn.Replica().OverlaySize())

	go func() {
		err := conn.Run(ctx, nil)
		if err != nil && ctx.Err() == nil {
			logger.Printf("connection closed: %v", err)
		}
		cancel()
	}()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	b := &bot{conn: conn, rng: rand.New(rand.NewSource(*seed)), log: logger}
	t := time.NewTicker(*every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r := conn.Replica()
			logger.Printf("done: visible=%d overlay=%d desyncs=%d", len(r.VisibleBlocks()), r.OverlaySize(), r.Desyncs())
			return
		case <-t.C:
			if err := b.step(); err != nil {
				logger.Printf("step: %v", err)
				return
			}
		}
	}
}

// renderDistance picks the streaming radius: an explicit flag wins, then the
// tuning file, then the built-in default.
func renderDistance(configPath string, flagValue int) (int, error) {
	if flagValue >= 0 {
		return flagValue, nil
	}
	tu := tuning.Defaults()
	if configPath != "" {
		var err error
		if tu, err = tuning.Load(configPath); err != nil {
			return 0, err
		}
	}
	return tu.RenderDistance, nil
}

type bot struct {
	conn *client.Conn
	rng  *rand.Rand
	log  *log.Logger
}

// step wanders one block along the surface, then digs or builds next to the
// new position.
func (b *bot) step() error {
	_, pos := b.conn.Replica().Self()
	x := int(pos.X) + b.rng.Intn(3) - 1
	z := int(pos.Z) + b.rng.Intn(3) - 1
	y := terrain.Height(float64(x), float64(z)) + 1
	if err := b.conn.Move(terrain.Vec3f{X: float64(x), Y: float64(y), Z: float64(z)}); err != nil {
		return err
	}

	target := terrain.Vec3i{X: x + 2, Y: terrain.Height(float64(x+2), float64(z)), Z: z}
	if b.rng.Intn(2) == 0 {
		ok, err := b.conn.RemoveBlock(target)
		if err != nil {
			return err
		}
		if ok {
			b.log.Printf("remove %+v", target)
		}
		return nil
	}
	target.Y++
	if b.conn.Replica().Exists(target) {
		return nil
	}
	b.log.Printf("place %+v", target)
	return b.conn.PlaceBlock(target)
}
