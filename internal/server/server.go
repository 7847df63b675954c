// Package server runs the TCP listener: one goroutine per connection,
// line-oriented request/response framing, and graceful shutdown on
// SIGINT/SIGTERM that flushes every loaded filter before exiting.
package server

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/csvquery/bloomd/internal/dispatch"
	"github.com/csvquery/bloomd/internal/entry"
	"github.com/csvquery/bloomd/internal/iniconf"
	"github.com/csvquery/bloomd/internal/logging"
	"github.com/csvquery/bloomd/internal/registry"
)

// Server accepts TCP connections and dispatches each line to the
// registry. Unlike the daemon this package is descended from, there is
// no semaphore bounding concurrent connections: the wire protocol
// calls for one goroutine per connection, unbounded.
type Server struct {
	cfg      iniconf.ServerConfig
	reg      *registry.Registry
	listener net.Listener
	shutdown chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// New builds a Server bound to reg, not yet listening.
func New(reg *registry.Registry, cfg iniconf.ServerConfig) *Server {
	return &Server{
		cfg:      cfg,
		reg:      reg,
		shutdown: make(chan struct{}),
	}
}

// ListenAndServe binds the configured address and accepts connections
// until Shutdown is called or a SIGINT/SIGTERM is received. It blocks
// until the listener is closed, every connection handler returns, and
// the shutdown flush has completed.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = ln

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		s.Shutdown()
	}()

	logging.L().Info("bloomd listening", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				// Shutdown waits for the handlers; a second caller blocks
				// until the first call's flush has finished.
				s.Shutdown()
				return nil
			default:
				logging.L().Error("accept error", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Shutdown closes the listener and flushes every loaded filter. Safe
// to call more than once.
func (s *Server) Shutdown() {
	s.once.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.wg.Wait()

		s.reg.Each(func(name string, e *entry.FilterEntry) {
			if !e.Loaded() {
				return
			}
			if err := e.Flush(); err != nil {
				logging.FilterError(name, err)
			}
		})
		logging.L().Info("bloomd shutdown complete")
	})
}

// handleConnection reads newline-delimited commands from conn and
// writes the dispatcher's response for each, until the client closes
// the connection or the server shuts down. A panicking command handler
// is confined to this connection: it is recovered, logged, and the
// connection is closed rather than crashing the listener or any other
// connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()
	defer func() {
		if r := recover(); r != nil {
			logging.L().Error("recovered panic in connection handler", "panic", r, "remote", conn.RemoteAddr())
		}
	}()

	// Closing the connection on shutdown unblocks a pending read.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.shutdown:
			_ = conn.Close()
		case <-done:
		}
	}()

	reader := bufio.NewReader(conn)

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := bytes.TrimRight(line, "\r\n")
			if len(trimmed) > 0 {
				resp := dispatch.Dispatch(s.reg, s.cfg, trimmed)
				if resp != nil {
					_ = conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
					if _, werr := conn.Write(resp); werr != nil {
						return
					}
				}
			}
		}
		if err != nil {
			return
		}
	}
}
