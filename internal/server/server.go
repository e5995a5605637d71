// Package server implements the TCP accept loop: one goroutine per
// connection, each reading framed requests, dispatching them to the DB,
// and writing framed responses until the peer disconnects (spec.md
// §4.9).
package server

import (
	"errors"
	"io"
	"log"
	"net"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/badtuple/remits/internal/db"
	"github.com/badtuple/remits/internal/remerr"
	"github.com/badtuple/remits/internal/wire"
)

// Server owns the listener and the shared DB every connection dispatches
// against.
type Server struct {
	ln net.Listener
	db *db.DB
}

// Listen binds addr (host:port) and returns a Server ready to Serve.
func Listen(addr string, store *db.DB) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, db: store}, nil
}

// Addr returns the bound listener address, useful when addr was ":0".
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// Serve runs the accept loop until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		connID := uuid.NewString()
		go s.handleConn(conn, connID)
	}
}

func (s *Server) handleConn(conn net.Conn, connID string) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("server conn=%s panic=%v", connID, r)
		}
	}()

	log.Printf("server conn=%s remote=%s event=accept", connID, conn.RemoteAddr())

	var reqCount int
	var bytesIn, bytesOut uint64
	for {
		body, err := wire.ReadFrame(conn)
		if err != nil {
			// A structurally-empty frame is a protocol error the client
			// can recover from; any other failure means the byte stream
			// itself is desynced or the socket is gone, so the
			// connection ends.
			if re, ok := remerr.As(err); ok && re.Code == remerr.UnknownFrameKind {
				_ = wire.WriteFrame(conn, wire.EncodeError(re.Code))
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Printf("server conn=%s event=read_error err=%v", connID, err)
			}
			break
		}
		bytesIn += uint64(len(body))

		req, err := wire.DecodeRequest(body)
		var resp []byte
		if err != nil {
			re, ok := remerr.As(err)
			if !ok {
				re = remerr.New(remerr.CouldNotReadPayload)
			}
			resp = wire.EncodeError(re.Code)
		} else {
			resp = s.db.Exec(req.Cmd)
		}

		if err := wire.WriteFrame(conn, resp); err != nil {
			log.Printf("server conn=%s event=write_error err=%v", connID, err)
			break
		}
		bytesOut += uint64(len(resp))
		reqCount++
	}

	log.Printf("server conn=%s event=close requests=%d in=%s out=%s",
		connID, reqCount, humanize.Bytes(bytesIn), humanize.Bytes(bytesOut))
}
