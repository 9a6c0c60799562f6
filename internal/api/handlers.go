package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"bot-arena/internal/game"

	"go.uber.org/zap"
)

// Handler methods for routerHandlers
// These are used by both the standalone router (for testing) and the full Server.

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.GetSnapshot())
}

func (h *routerHandlers) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	standings := h.engine.Standings()
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(standings) {
		standings = standings[:limit]
	}
	writeJSON(w, standings)
}

func (h *routerHandlers) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"messages": h.engine.Messages(queryInt(r, "limit", 0)),
	})
}

func (h *routerHandlers) handleGetRules(w http.ResponseWriter, r *http.Request) {
	rules := h.engine.Rules()
	writeJSON(w, map[string]any{
		"rules":      rules,
		"messageCap": rules.MessageCap(),
	})
}

func (h *routerHandlers) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	if h.frames == nil {
		writeError(w, "Frames are not rendered", http.StatusNotFound)
		return
	}
	var buf bytes.Buffer
	if err := h.frames.RenderPNG(&buf, h.engine.GetSnapshot()); err != nil {
		h.log.Error("frame render failed", zap.Error(err))
		writeError(w, "Render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// command adapts a phase transition to a handler. A transition the
// current phase does not accept is a 409.
func (h *routerHandlers) command(name string, fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			if errors.Is(err, game.ErrInvalidTransition) {
				writeError(w, err.Error(), http.StatusConflict)
				return
			}
			h.log.Error("match command failed", zap.String("command", name), zap.Error(err))
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.log.Info("match command", zap.String("command", name), zap.String("ip", GetClientIP(r)))
		writeJSON(w, map[string]bool{"success": true})
	}
}

func (h *routerHandlers) handleSpeedUp(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]int{"speed": h.engine.SpeedUp()})
}

func (h *routerHandlers) handleSpeedDown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]int{"speed": h.engine.SpeedDown()})
}

func (h *routerHandlers) handleDisplay(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]game.DisplayMode{"display": h.engine.CycleDisplay()})
}

// Helper functions (package-level for reuse)

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
