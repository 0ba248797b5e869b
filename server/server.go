// Package server assembles the HTTP surface and owns process lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/core/clients"
	"github.com/cadenza-av/cadenza/core/events"
	"github.com/cadenza-av/cadenza/core/metadata"
	"github.com/cadenza-av/cadenza/core/scanner"
	"github.com/cadenza-av/cadenza/core/transcode"
	"github.com/cadenza-av/cadenza/db"
	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
	"github.com/cadenza-av/cadenza/persistence"
	"github.com/cadenza-av/cadenza/server/upnp"
)

// Server wires the storage engine, the UPnP router and the scanner together.
type Server struct {
	ds      model.DataStore
	router  *upnp.Router
	scanner *scanner.Scanner
	bus     *events.Bus
	http    *http.Server
}

// New builds the full component graph. onFatal runs when the storage layer
// escalates repeated rollback failures.
func New(ctx context.Context, onFatal func()) (*Server, error) {
	dbConn, err := db.Open(ctx)
	if err != nil {
		return nil, err
	}
	ds := persistence.New(dbConn, onFatal)

	extractors := metadata.NewRegistry()
	clientManager := clients.NewManager(ctx, ds)
	dispatcher := transcode.NewDispatcher()

	bus := events.New(ds, nil)
	router := upnp.New(ds, bus, clientManager, dispatcher, extractors)
	bus.SetNotifier(router)
	if err := bus.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading update counters: %w", err)
	}

	scan := scanner.New(ds, bus, extractors, nil)

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Mount("/", router.Routes())

	return &Server{
		ds:      ds,
		router:  router,
		scanner: scan,
		bus:     bus,
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", conf.Server.Address, conf.Server.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.router.Start(ctx); err != nil {
		return err
	}
	if err := s.scanner.Start(ctx); err != nil {
		return err
	}
	db.StartBackup(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info(ctx, "Shutting down")
	s.scanner.Stop()
	s.router.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.http.Shutdown(shutdownCtx)
	return s.ds.Close()
}
