// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package broker

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/kpistream/pipeline/internal/logging"
)

// EmbeddedServerConfig configures the in-process JetStream server started
// when nats.embedded is set (single-node deployments, integration tests).
type EmbeddedServerConfig struct {
	// Port to listen on; -1 picks a random free port (used by tests).
	Port int
	// StoreDir holds the JetStream file store.
	StoreDir string
}

// EmbeddedServer is an in-process NATS JetStream instance. The processor
// binary starts one instead of dialing an external broker when
// nats.embedded is set; tests use it to exercise the real consume path.
type EmbeddedServer struct {
	srv *server.Server
}

// StartEmbeddedServer boots the server and blocks until it accepts
// connections, or fails after a 10 second readiness timeout.
func StartEmbeddedServer(cfg EmbeddedServerConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "kpistream-embedded",
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoLog:      true,
		NoSigs:     true,
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded broker: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded broker not ready within 10s")
	}

	logging.Info().Str("url", srv.ClientURL()).Msg("BROKER: embedded JetStream server ready")
	return &EmbeddedServer{srv: srv}, nil
}

// ClientURL returns the URL clients dial to reach this server.
func (s *EmbeddedServer) ClientURL() string {
	return s.srv.ClientURL()
}

// IsRunning reports whether the server is accepting connections.
func (s *EmbeddedServer) IsRunning() bool {
	return s.srv.Running()
}

// Shutdown stops the server and waits for it to fully wind down.
func (s *EmbeddedServer) Shutdown() {
	s.srv.Shutdown()
	s.srv.WaitForShutdown()
}
