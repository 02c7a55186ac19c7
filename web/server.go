// Copyright (C) 2026, Chunkdb, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/chunkdb/chunkdb/controller"
)

// Server exposes read-only cluster state on the web interface port. It only
// reads controller snapshots; the core never depends on it.
type Server struct {
	log  *zap.Logger
	ctrl *controller.Controller
	srv  *http.Server
}

func NewServer(ctrl *controller.Controller, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	s := &Server{log: log, ctrl: ctrl}

	r := mux.NewRouter()
	r.HandleFunc("/cluster/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	handler := cors.AllowAll().Handler(gziphandler.GzipHandler(r))
	s.srv = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until Shutdown.
func (s *Server) Run(addr string) error {
	s.srv.Addr = addr
	s.log.Info("web interface listening", zap.String("addr", addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type statusPeer struct {
	Addr        string `json:"addr"`
	Type        string `json:"type"`
	Established bool   `json:"established"`
}

type statusChunk struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Owner string `json:"owner"`
}

type statusReply struct {
	Self        string        `json:"self"`
	Primary     string        `json:"primary,omitempty"`
	IsPrimary   bool          `json:"isPrimary"`
	Controllers []string      `json:"controllers"`
	Peers       []statusPeer  `json:"peers"`
	Chunks      []statusChunk `json:"chunks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	reply := statusReply{
		Self:      s.ctrl.Self().ConnectionName(),
		IsPrimary: s.ctrl.IsPrimary(),
	}
	if primary, ok := s.ctrl.Primary(); ok {
		reply.Primary = primary.ConnectionName()
	}
	for _, cd := range s.ctrl.ControllerSet() {
		reply.Controllers = append(reply.Controllers, cd.ConnectionName())
	}
	for _, p := range s.ctrl.Peers() {
		reply.Peers = append(reply.Peers, statusPeer{
			Addr:        p.Addr,
			Type:        p.Type.String(),
			Established: p.Established,
		})
	}
	for _, d := range s.ctrl.Chunks() {
		reply.Chunks = append(reply.Chunks, statusChunk{
			Start: d.Start.String(),
			End:   d.End.String(),
			Owner: d.Owner.ConnectionName(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		s.log.Debug("unable to encode status", zap.Error(err))
	}
}
