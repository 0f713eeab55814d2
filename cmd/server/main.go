package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	persistlog "voxelshare.dev/internal/persistence/log"
	"voxelshare.dev/internal/metrics"
	"voxelshare.dev/internal/protocol"
	"voxelshare.dev/internal/sim/tuning"
	"voxelshare.dev/internal/sim/world"
	"voxelshare.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configPath = flag.String("config", "./configs/tuning.yaml", "path to tuning.yaml (defaults are used if missing)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite mutation index")
		audit      = flag.Bool("audit", true, "write the mutation audit log (jsonl.zst)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(strings.TrimSpace(*configPath))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *configPath)
		tune = tuning.Defaults()
	}

	w := world.New(world.WorldConfig{
		ID:          *worldID,
		ChunkSize:   tune.ChunkSize,
		PlayerBox:   tune.PlayerBox,
		InboxSize:   tune.InboxSize,
		ClientQueue: tune.ClientQueue,
		StatsEvery:  time.Duration(tune.MetricsEveryMs) * time.Millisecond,
	}, logger)

	reg := metrics.New()
	w.SetRecorder(reg)
	reg.WatchWorld(w)

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	var sinks multiAuditLogger
	if *audit {
		al := persistlog.NewAuditLogger(worldDir, 0, logger)
		defer al.Close()
		sinks = append(sinks, al)
		reg.WatchDrops("audit_dropped_total", "Audit log entries dropped because the writer fell behind.", al.Dropped)
	}
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		sinks = append(sinks, idx)
		reg.WatchDrops("index_dropped_total", "Index rows dropped because the writer fell behind.", func() uint64 { return idx.Stats().Dropped })
	}
	if len(sinks) > 0 {
		w.SetAuditLogger(sinks)
	}

	wsSrv, err := ws.NewServer(w, logger)
	if err != nil {
		logger.Fatalf("ws server: %v", err)
	}
	wsSrv.SetRecorder(reg)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(w, wsSrv, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := w.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Printf("listening on %s (chunk_size=%d)", *addr, tune.ChunkSize)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})

	if err := g.Wait(); err != nil {
		logger.Printf("exit: %v", err)
	}
	st := w.Stats()
	logger.Printf("stopped: players=%d overlay=%d requests=%d", st.Players, st.OverlaySize, st.Requests)
}

func newMux(w *world.World, wsSrv *ws.Server, reg *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		select {
		case <-w.Done():
			http.Error(rw, "world stopped", http.StatusServiceUnavailable)
			return
		default:
		}
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		st, err := w.FreshStats(ctx)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(struct {
			WorldID string               `json:"world_id"`
			Params  protocol.WorldParams `json:"params"`
			Stats   world.Stats          `json:"stats"`
		}{w.ID(), w.Params(), st})
	})
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	return mux
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type multiAuditLogger []world.AuditLogger

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	for _, l := range m {
		_ = l.WriteAudit(entry)
	}
	return nil
}
