package provenance

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts the ledger debug pages under /debug/ on mux:
// a tailsql console, a JSON run listing and an on-demand backup.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to the ledger
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(s.path), s.db, &tailsql.DBOptions{
		Label: "Provenance ledger",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("runs", "Recent runs as JSON (?limit=N, ?run=ID)", s.runsHandler())
	debug.Handle("backup", "Create and download a backup of the ledger now", s.backupHandler())
}

func (s *Store) runsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if id := r.URL.Query().Get("run"); id != "" {
			run, err := s.GetRun(id)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			parts, err := s.ListPartitions(id)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			chunks, err := s.ListChunks(id)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, map[string]any{"run": run, "partitions": parts, "chunks": chunks})
			return
		}

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid limit %q", v), http.StatusBadRequest)
				return
			}
			limit = n
		}
		runs, err := s.ListRuns(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []*Run{}
		}
		writeJSON(w, runs)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("[provenance] failed to encode response: %v", err)
	}
}

// Backup writes a consistent copy of the ledger to dest with VACUUM INTO.
// dest must not exist.
func (s *Store) Backup(dest string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("backup ledger: %w", err)
	}
	return nil
}

func (s *Store) backupHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := fmt.Sprintf("cloudsplit-backup-%d.db", s.clock.Now().Unix())
		dir, err := os.MkdirTemp("", "cloudsplit-backup")
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, name)
		if err := s.Backup(path); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, path)
	})
}
