package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/avelar/pong-relay/internal/identity"
	"github.com/avelar/pong-relay/internal/registry"
	"github.com/avelar/pong-relay/internal/relay"
	"github.com/avelar/pong-relay/pkg/wire"
)

const outboxSize = 32
const writeTimeout = 3 * time.Second

type Options struct {
	Dispatcher *relay.Dispatcher
	Registry   *registry.Registry
	Resolver   identity.Resolver
	Log        *zap.Logger
	Dev        bool // loosen origin checks for local frontends
}

func Handler(opts Options) http.HandlerFunc {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := opts.Resolver.Resolve(
			r.URL.Query().Get("token"),
			r.URL.Query().Get("user"),
		)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		accept := &websocket.AcceptOptions{}
		if opts.Dev {
			accept.OriginPatterns = []string{"localhost:*", "127.0.0.1:*"}
		}
		conn, err := websocket.Accept(w, r, accept)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		peer := registry.NewPeer(userID, outboxSize)
		opts.Registry.Register(peer)
		defer func() {
			opts.Registry.Unregister(peer)
			// A reconnect may already have replaced this entry; only a
			// genuinely gone user reaches the recovery monitor.
			if !opts.Registry.Connected(userID) {
				opts.Dispatcher.Disconnected(userID)
			}
		}()

		log.Info("peer connected", zap.String("user", userID))

		// Writer: drain the outbox into the socket until it closes.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for ev := range peer.Outbox() {
				payload, err := json.Marshal(ev)
				if err != nil {
					log.Error("marshal outbound event", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				err = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					return
				}
			}
		}()

		// Reader: one event at a time, in arrival order.
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Info("peer disconnected", zap.String("user", userID))
				default:
					log.Info("peer connection lost", zap.String("user", userID), zap.Error(err))
				}
				return
			}

			var ev wire.ClientEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				_ = conn.Write(r.Context(), websocket.MessageText,
					[]byte(`{"type":"error","code":"BadPayload","error":"bad json"}`))
				continue
			}

			opts.Dispatcher.Dispatch(userID, ev)
		}
	}
}
