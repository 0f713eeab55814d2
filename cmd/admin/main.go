package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"voxelshare.dev/internal/persistence/indexdb"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "state":
			os.Exit(stateCmd(os.Args[2:], os.Stdout))
		case "history":
			os.Exit(historyCmd(os.Args[2:], os.Stdout))
		case "actors":
			os.Exit(actorsCmd(os.Args[2:], os.Stdout))
		}
	}
	os.Exit(listCmd(os.Args[1:], os.Stdout))
}

func listCmd(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "worlds"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		return 1
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintln(out, e.Name())
		}
	}
	return 0
}

func stateCmd(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}

func openIndex(fs *flag.FlagSet, args []string) (*indexdb.SQLiteIndex, error) {
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "world_1", "world id")
	dbPath := fs.String("db", "", "sqlite db path (overrides -data/-world)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return indexdb.OpenSQLite(path)
}

func historyCmd(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	x := fs.Int("x", 0, "block x")
	y := fs.Int("y", 0, "block y")
	z := fs.Int("z", 0, "block z")
	idx, err := openIndex(fs, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		return 1
	}
	defer idx.Close()

	rows, err := idx.History(context.Background(), *x, *y, *z)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		return 1
	}
	enc := json.NewEncoder(out)
	for _, r := range rows {
		_ = enc.Encode(r)
	}
	return 0
}

func actorsCmd(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("actors", flag.ExitOnError)
	idx, err := openIndex(fs, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		return 1
	}
	defer idx.Close()

	counts, err := idx.CountByActor(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		return 1
	}
	actors := make([]string, 0, len(counts))
	for a := range counts {
		actors = append(actors, a)
	}
	sort.Slice(actors, func(i, j int) bool {
		if counts[actors[i]] != counts[actors[j]] {
			return counts[actors[i]] > counts[actors[j]]
		}
		return actors[i] < actors[j]
	})
	for _, a := range actors {
		fmt.Fprintf(out, "%s\t%d\n", a, counts[a])
	}
	return 0
}
