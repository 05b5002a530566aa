package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lazypower/curator/internal/playbook"
)

// parseAt parses an optional RFC3339 timestamp. Empty means "use the engine
// clock" and yields the zero time.
func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Deltas []*playbook.Bullet `json:"deltas"`
		At     string             `json:"at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if len(req.Deltas) == 0 {
		http.Error(w, `{"error":"deltas required"}`, http.StatusBadRequest)
		return
	}
	for i, d := range req.Deltas {
		if d == nil || d.Content == "" {
			http.Error(w, fmt.Sprintf(`{"error":"delta %d: content required"}`, i), http.StatusBadRequest)
			return
		}
		if d.HelpfulCount < 0 || d.HarmfulCount < 0 {
			http.Error(w, fmt.Sprintf(`{"error":"delta %d: counts must be >= 0"}`, i), http.StatusBadRequest)
			return
		}
	}
	at, err := parseAt(req.At)
	if err != nil {
		http.Error(w, `{"error":"invalid at timestamp"}`, http.StatusBadRequest)
		return
	}

	reinforced, added, err := s.engine.Merge(req.Deltas, at)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"reinforced":   reinforced,
		"added":        added,
		"active_count": len(s.engine.Curator.Active()),
	})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	taskType := r.URL.Query().Get("task_type")

	topK := s.retrieveTopK
	if k := r.URL.Query().Get("top_k"); k != "" {
		if n, err := strconv.Atoi(k); err == nil && n > 0 {
			topK = n
		}
	}

	at, err := parseAt(r.URL.Query().Get("at"))
	if err != nil {
		http.Error(w, `{"error":"invalid at timestamp"}`, http.StatusBadRequest)
		return
	}

	bullets, err := s.engine.Retrieve(taskType, topK, at)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if bullets == nil {
		bullets = []*playbook.Bullet{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"task_type": taskType,
		"count":     len(bullets),
		"bullets":   bullets,
	})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	// Body is optional; an empty body sweeps at the current clock.
	var req struct {
		At string `json:"at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	at, err := parseAt(req.At)
	if err != nil {
		http.Error(w, `{"error":"invalid at timestamp"}`, http.StatusBadRequest)
		return
	}

	result, err := s.engine.ArchiveSweep(at)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	at, err := parseAt(r.URL.Query().Get("at"))
	if err != nil {
		http.Error(w, `{"error":"invalid at timestamp"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.engine.Stats(at))
}

func (s *Server) handleBullets(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		state = "active"
	}

	var bullets []*playbook.Bullet
	switch state {
	case "active":
		bullets = s.engine.Curator.Active()
	case "archived":
		bullets = s.engine.Curator.Archived()
	default:
		http.Error(w, `{"error":"state must be active or archived"}`, http.StatusBadRequest)
		return
	}
	if bullets == nil {
		bullets = []*playbook.Bullet{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"state":   state,
		"count":   len(bullets),
		"bullets": bullets,
	})
}
