// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/rasterflow/services/pipeline/telemetry"
)

// newStatusRouter serves metrics, health and progress.
//
// Routes:
//
//	GET /metrics      Prometheus exposition
//	GET /healthz      liveness
//	GET /v1/progress  progress of the current or last Update
func newStatusRouter(tracker *progressTracker) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("rasterflow"))

	metrics := telemetry.MetricsHandler()
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metrics))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/v1/progress", func(c *gin.Context) {
		c.JSON(http.StatusOK, tracker.Snapshot())
	})
	return router
}

// statusServer runs the status router in the background.
type statusServer struct {
	srv    *http.Server
	addr   string
	done   chan struct{}
	logger *slog.Logger
}

// startStatusServer listens on addr. The returned server reports the bound
// address, which differs from addr when addr uses port 0.
func startStatusServer(addr string, tracker *progressTracker, logger *slog.Logger) (*statusServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &statusServer{
		srv: &http.Server{
			Handler:           newStatusRouter(tracker),
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr:   ln.Addr().String(),
		done:   make(chan struct{}),
		logger: logger,
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("status server listening", slog.String("address", s.addr))
	return s, nil
}

// Addr returns the bound address.
func (s *statusServer) Addr() string {
	return s.addr
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *statusServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
