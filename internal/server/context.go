package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/lazypower/curator/internal/playbook"
)

// handleContext renders the top-ranked bullets as a markdown block ready for
// prompt injection. It goes through Retrieve, so the rendered bullets are
// marked used just like /api/retrieve results.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
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

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"context": buildContext(taskType, bullets),
		"count":   len(bullets),
	})
}

// buildContext creates the playbook markdown for prompt injection. Bullets
// are grouped by type, keeping rank order within each group; the [id] prefix
// lets downstream feedback name the exact bullet it reinforces.
func buildContext(taskType string, bullets []*playbook.Bullet) string {
	var b strings.Builder

	b.WriteString("<playbook>\n## Curator — Task Playbook\n")
	if taskType != "" {
		b.WriteString(fmt.Sprintf("Task: %s\n", taskType))
	}

	var order []string
	groups := map[string][]*playbook.Bullet{}
	for _, bl := range bullets {
		tp := bl.BulletType
		if tp == "" {
			tp = "general"
		}
		if _, ok := groups[tp]; !ok {
			order = append(order, tp)
		}
		groups[tp] = append(groups[tp], bl)
	}

	for _, tp := range order {
		b.WriteString(fmt.Sprintf("\n### %s\n", tp))
		for _, bl := range groups[tp] {
			b.WriteString(fmt.Sprintf("- [%s] %s (helpful=%d, harmful=%d)\n", bl.ID, bl.Content, bl.HelpfulCount, bl.HarmfulCount))
		}
	}

	b.WriteString("</playbook>")
	return b.String()
}
