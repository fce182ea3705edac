package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avelar/pong-relay/internal/config"
	"github.com/avelar/pong-relay/internal/history"
	"github.com/avelar/pong-relay/internal/httpapi"
	"github.com/avelar/pong-relay/internal/identity"
	"github.com/avelar/pong-relay/internal/lobby"
	"github.com/avelar/pong-relay/internal/registry"
	"github.com/avelar/pong-relay/internal/relay"
	"github.com/avelar/pong-relay/internal/ws"
)

func main() {
	cfg := config.Load()

	var log *zap.Logger
	var err error
	if cfg.Dev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var recorder lobby.Recorder = history.NoopRecorder{}
	if cfg.PostgresDSN != "" {
		rec, err := history.NewGormRecorder(cfg.PostgresDSN)
		if err != nil {
			log.Fatal("open match history store", zap.Error(err))
		}
		recorder = rec
		log.Info("match history persistence enabled")
	}

	var resolver identity.Resolver = identity.GuestResolver{}
	if cfg.JWTSecret != "" {
		resolver = identity.NewJWTResolver(cfg.JWTSecret)
	}

	reg := registry.New(log.Named("registry"))
	store := lobby.NewStore(ctx, lobby.Options{
		Sender:   reg,
		Recorder: recorder,
		Grace:    cfg.GraceWindow,
		Log:      log.Named("lobby"),
	})
	dispatcher := relay.NewDispatcher(store, reg, log.Named("relay"))

	handler := httpapi.SetupRoutes(store, ws.Handler(ws.Options{
		Dispatcher: dispatcher,
		Registry:   reg,
		Resolver:   resolver,
		Log:        log.Named("ws"),
		Dev:        cfg.Dev,
	}), log.Named("http"))

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
