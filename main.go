package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"web/firemap/clusterapi"
	"web/firemap/maploader"
)

type config struct {
	Addr        string
	SnapshotDir string
	SeedPoints  int
	UseMMap     bool
}

func loadConfig() config {
	// .env is optional; environment variables win either way
	if err := godotenv.Load(); err != nil {
		fmt.Printf("No .env file loaded: %v\n", err)
	}

	cfg := config{
		Addr:        ":8000",
		SnapshotDir: "data/snapshots",
		SeedPoints:  2000,
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("SNAPSHOT_DIR"); v != "" {
		cfg.SnapshotDir = v
	}
	if v := os.Getenv("SEED_POINTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SeedPoints = n
		} else {
			fmt.Printf("Invalid SEED_POINTS %q: %v\n", v, err)
		}
	}
	cfg.UseMMap = os.Getenv("SNAPSHOT_MMAP") == "1"
	return cfg
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func snapshotFilename(dir string, features int, mmapFormat bool) string {
	timestamp := time.Now().Format("20060102-150405")
	id := uuid.New().String()[:8] // Use first 8 chars of UUID for brevity
	ext := ".zst"
	if mmapFormat {
		ext = ".bin"
	}
	return filepath.Join(dir, fmt.Sprintf("store-%df-%s-%s%s", features, timestamp, id, ext))
}

// latestSnapshot returns the newest snapshot file in dir, or "" when none exist.
func latestSnapshot(dir string) string {
	files, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var candidates []string
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		switch filepath.Ext(f.Name()) {
		case ".zst", ".bin":
			candidates = append(candidates, f.Name())
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	// Filenames embed a sortable timestamp
	sort.Strings(candidates)
	return filepath.Join(dir, candidates[len(candidates)-1])
}

func openStore(cfg config) *clusterapi.Store {
	if path := latestSnapshot(cfg.SnapshotDir); path != "" {
		fmt.Printf("Loading snapshot %s...\n", path)
		loadStart := time.Now()

		var store *clusterapi.Store
		var err error
		if filepath.Ext(path) == ".bin" {
			store, err = clusterapi.LoadSnapshotMMap(path)
		} else {
			store, err = clusterapi.LoadCompressed(path)
		}
		if err != nil {
			fmt.Printf("ERROR: Failed to load snapshot: %v\n", err)
		} else {
			fmt.Printf("Snapshot loaded in %v (%d features)\n",
				time.Since(loadStart), store.TotalFeatures())
			return store
		}
	}

	fmt.Printf("Generating demo dataset with %d hydrants...\n", cfg.SeedPoints)
	bounds := maploader.BoundingBox{West: -105.3, South: 39.5, East: -104.6, North: 39.95}
	return clusterapi.NewDemoStore(bounds, cfg.SeedPoints, cfg.SeedPoints/40, cfg.SeedPoints/10)
}

func saveStore(store *clusterapi.Store, cfg config) {
	savePath := snapshotFilename(cfg.SnapshotDir, store.TotalFeatures(), cfg.UseMMap)
	fmt.Printf("Saving snapshot to %s...\n", savePath)
	saveStart := time.Now()

	var err error
	if cfg.UseMMap {
		err = store.SaveSnapshotMMap(savePath)
	} else {
		err = store.SaveCompressed(savePath)
	}
	if err != nil {
		fmt.Printf("Failed to save snapshot on shutdown: %v\n", err)
		return
	}

	if fileInfo, err := os.Stat(savePath); err == nil {
		fmt.Printf("Snapshot saved in %v (file size: %s)\n",
			time.Since(saveStart), formatFileSize(fileInfo.Size()))
	} else {
		fmt.Println("Snapshot saved")
	}
}

func main() {
	cfg := loadConfig()

	if err := os.MkdirAll(cfg.SnapshotDir, 0755); err != nil {
		fmt.Printf("Error creating snapshot directory: %v\n", err)
	}

	store := openStore(cfg)
	for _, l := range store.Layers() {
		fmt.Printf("Layer %s: %d features (%s)\n", l.ID, len(l.Features), l.Kind)
	}

	server := clusterapi.NewServer(store)
	r := server.Router()

	// Create a channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		fmt.Printf("Starting server on %s...\n", cfg.Addr)
		if err := r.Run(cfg.Addr); err != nil {
			fmt.Printf("Server error: %v\n", err)
		}
	}()

	// Wait for interrupt signal
	<-quit
	fmt.Println("\nShutting down server...")

	saveStore(store, cfg)
	fmt.Println("Server stopped")
}
