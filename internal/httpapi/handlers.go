package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avelar/pong-relay/internal/lobby"
)

type createRequest struct {
	HostID   string         `json:"host_id"`
	Settings map[string]any `json:"settings,omitempty"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

type transferRequest struct {
	RequesterID string `json:"requester_id"`
	NewLeaderID string `json:"new_leader_id"`
}

func CreateLobby(store *lobby.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}

		snap, err := store.Create(req.HostID, req.Settings)
		if err != nil {
			writeError(w, err)
			return
		}

		log.Info("lobby created over http", zap.String("lobby", snap.ID))
		writeJSON(w, http.StatusCreated, snap)
	}
}

func GetLobby(store *lobby.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := store.Get(chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func JoinLobby(store *lobby.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req userRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		snap, err := store.Join(chi.URLParam(r, "code"), req.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func LeaveLobby(store *lobby.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req userRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := store.Leave(chi.URLParam(r, "code"), req.UserID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func UpdateSettings(store *lobby.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := store.UpdateSettings(chi.URLParam(r, "code"), patch); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func TransferLeadership(store *lobby.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		err := store.TransferLeadership(chi.URLParam(r, "code"), req.NewLeaderID, req.RequesterID)
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lobby.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lobby.ErrForbidden), errors.Is(err, lobby.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, lobby.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, lobby.ErrNotReady):
		status = http.StatusConflict
	case errors.Is(err, lobby.ErrInvalidHost):
		status = http.StatusUnprocessableEntity
	}

	writeJSON(w, status, map[string]string{
		"code":  lobby.Code(err),
		"error": err.Error(),
	})
}
