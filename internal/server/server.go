// Package server exposes the daemon over a unix socket. The protocol
// is one JSON request per line answered by one JSON response per
// line; framing lives here, command semantics live in the handler.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"codeberg.org/wrenhale/gpuctl/internal/logger"
	"codeberg.org/wrenhale/gpuctl/schema"
)

// Handler answers one decoded request.
type Handler interface {
	Handle(ctx context.Context, req schema.Request) schema.Response
}

const (
	socketMode      = 0o660
	maxRequestBytes = 1 << 20
)

// Server accepts client connections on a unix socket.
type Server struct {
	handler  Handler
	path     string
	listener net.Listener

	wg sync.WaitGroup
}

// Listen binds the unix socket, replacing a stale socket file left by
// a previous run.
func Listen(path string, handler Handler) (*Server, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errFactory.Wrap(ErrListenFailed, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errFactory.Wrap(ErrListenFailed, err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, errFactory.Wrap(ErrListenFailed, err)
	}

	if err := os.Chmod(path, socketMode); err != nil {
		listener.Close()
		return nil, errFactory.Wrap(ErrListenFailed, err)
	}

	logger.Info().Str("socket", path).Msg("Listening for clients")

	return &Server{handler: handler, path: path, listener: listener}, nil
}

// Serve accepts connections until the context is cancelled or the
// listener fails. Open connections drain before Serve returns, and
// the socket file is removed on the way out.
func (s *Server) Serve(ctx context.Context) error {
	defer os.Remove(s.path)

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}

			return errors.New().Wrap(ErrAcceptFailed, err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var resp schema.Response
		var req schema.Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp = schema.ErrorResponse(errors.New().Wrap(ErrBadRequest, err))
		} else {
			resp = s.handler.Handle(ctx, req)
		}

		// Encode appends the newline that frames the response.
		if err := encoder.Encode(resp); err != nil {
			logger.Debug().Err(err).Msg("Client write failed")
			return
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug().Err(err).Msg("Client read failed")
	}
}
