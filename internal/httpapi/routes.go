package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avelar/pong-relay/internal/lobby"
)

// SetupRoutes builds the router with the store and websocket handler
// injected.
func SetupRoutes(store *lobby.Store, wsHandler http.HandlerFunc, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/lobbies", CreateLobby(store, log))
	r.Get("/lobbies/{code}", GetLobby(store))
	r.Post("/lobbies/{code}/join", JoinLobby(store))
	r.Post("/lobbies/{code}/leave", LeaveLobby(store))
	r.Patch("/lobbies/{code}/settings", UpdateSettings(store))
	r.Post("/lobbies/{code}/leader", TransferLeadership(store))
	r.Get("/healthz", Healthz)
	r.Get("/ws", wsHandler)

	return r
}
