package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cleanee/engine"
	"cleanee/store"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid limit")
	}
	return n, nil
}

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Status())
}

func (h *Handlers) apiLog(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "flight recorder disabled")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var v interface{}
	switch kind := chi.URLParam(r, "kind"); kind {
	case "session":
		v, err = db.ListSessionLog(limit)
	case "transitions":
		machine := r.URL.Query().Get("machine")
		switch machine {
		case "", store.MachineDecision, store.MachineMode, store.MachineRoam:
		default:
			writeError(w, http.StatusBadRequest, "unknown machine: "+machine)
			return
		}
		v, err = db.ListTransitions(machine, limit)
	case "instructions":
		v, err = db.ListInstructionLog(limit)
	default:
		writeError(w, http.StatusNotFound, "unknown log: "+kind)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, v)
}

func (h *Handlers) apiResetAutonomy(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResetAutonomy(); err != nil {
		if errors.Is(err, engine.ErrNotSupported) {
			writeError(w, http.StatusNotImplemented, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
