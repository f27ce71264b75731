// Package session implements the accept loop and per-connection protocol
// handler: TCP/TLS accept, length-framed BSON request/response, the gated
// SCRAM handshake, and dispatch of queries onto the worker pool.
package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rustbase/rustbase/pkg/auth"
	"github.com/rustbase/rustbase/pkg/executor"
	"github.com/rustbase/rustbase/pkg/log"
	"github.com/rustbase/rustbase/pkg/metrics"
	"github.com/rustbase/rustbase/pkg/protoerr"
	"github.com/rustbase/rustbase/pkg/protocol"
	"github.com/rustbase/rustbase/pkg/query"
	"github.com/rustbase/rustbase/pkg/storage"
	"github.com/rustbase/rustbase/pkg/worker"
)

// readBufferSize is the size of the per-connection buffer frames are
// accumulated into until one full document is available.
const readBufferSize = 8 * 1024

// maxDocumentSize bounds a single frame to guard against a malformed or
// hostile length prefix forcing an unbounded allocation.
const maxDocumentSize = 64 * 1024 * 1024

// Server owns the listening socket and the shared state every connection
// handler dispatches into: storage, the SCRAM handshake server, and the
// worker pool that executes parsed ASTs off the reactor.
type Server struct {
	listener  net.Listener
	tlsConfig *tls.Config
	storage   *storage.Storage
	authSrv   *auth.Server
	pool      *worker.Pool
}

// New builds a Server around an already-initialized Storage, SCRAM
// authentication server, and worker Pool. tlsConfig may be nil, in which
// case connections are plaintext.
func New(st *storage.Storage, authSrv *auth.Server, pool *worker.Pool, tlsConfig *tls.Config) *Server {
	return &Server{storage: st, authSrv: authSrv, pool: pool, tlsConfig: tlsConfig}
}

// Listen binds addr, wrapping the listener in TLS if the server was built
// with a non-nil tls.Config.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("session: listen %s: %w", addr, err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound listener address. Listen must have succeeded first.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop until the listener is closed (typically via
// Close, driven by the SIGINT handler in cmd/rustbased). Each accepted
// connection is handled on its own goroutine so a slow or stalled client
// never blocks the reactor from accepting the next one.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("session: accept: %w", err)
		}
		metrics.ConnectionsTotal.Inc()
		metrics.ConnectionsActive.Inc()
		go s.handle(conn)
	}
}

// Close stops accepting new connections. In-flight connection handlers
// run to completion independently.
func (s *Server) Close() error {
	return s.listener.Close()
}

// handle runs one connection's full lifecycle: the gated handshake, then
// the request/response loop, until the client disconnects or the
// handshake fails.
func (s *Server) handle(conn net.Conn) {
	connID := uuid.New().String()
	logger := log.WithConn(connID)
	defer func() {
		_ = conn.Close()
		metrics.ConnectionsActive.Dec()
	}()

	r := bufio.NewReaderSize(conn, readBufferSize)

	principal, authenticated := s.authenticate(conn, r, connID, logger)
	if !authenticated {
		return
	}

	for {
		reqBytes, err := readDocument(r)
		if err != nil {
			if err != io.EOF {
				logger.Debug().Err(err).Msg("session: read request")
			}
			return
		}

		resp := s.dispatch(reqBytes, principal, logger)

		respBytes, err := bson.Marshal(resp)
		if err != nil {
			logger.Error().Err(err).Msg("session: marshal response")
			return
		}
		if _, err := conn.Write(respBytes); err != nil {
			logger.Debug().Err(err).Msg("session: write response")
			return
		}
	}
}

// authenticate gates the connection on the SCRAM handshake: if the
// system store holds no users, the session proceeds
// unauthenticated and anonymous; otherwise the handshake must complete
// successfully, exchanging HandshakeMessage frames, before any request is
// accepted. A failed handshake closes the connection without serving any
// request. The returned principal is nil for an anonymous session.
func (s *Server) authenticate(conn net.Conn, r *bufio.Reader, connID string, logger zerolog.Logger) (*storage.Principal, bool) {
	anyUsers, err := s.storage.HasAnyUsers()
	if err != nil {
		logger.Error().Err(err).Msg("session: check for existing users")
		return nil, false
	}
	if !anyUsers {
		return nil, true
	}

	conv := s.authSrv.NewConversation()

	clientFirst, err := readHandshake(r)
	if err != nil {
		logger.Debug().Err(err).Msg("session: read client-first")
		return nil, false
	}
	serverFirst, err := conv.Step(clientFirst.Payload)
	if err != nil {
		writeHandshakeFailure(conn, logger, conv.Username(), err)
		return nil, false
	}
	if err := writeHandshake(conn, protocol.HandshakeMessage{Payload: serverFirst, Done: conv.Done()}); err != nil {
		logger.Debug().Err(err).Msg("session: write server-first")
		return nil, false
	}

	clientFinal, err := readHandshake(r)
	if err != nil {
		logger.Debug().Err(err).Msg("session: read client-final")
		return nil, false
	}
	serverFinal, err := conv.Step(clientFinal.Payload)
	if err != nil {
		writeHandshakeFailure(conn, logger, conv.Username(), err)
		return nil, false
	}
	if err := writeHandshake(conn, protocol.HandshakeMessage{Payload: serverFinal, Done: true}); err != nil {
		logger.Debug().Err(err).Msg("session: write server-final")
		return nil, false
	}

	if !conv.Done() || !conv.Valid() {
		metrics.AuthFailuresTotal.Inc()
		logger.Warn().Str("user", conv.Username()).Msg("session: handshake did not authenticate")
		return nil, false
	}

	username := conv.Username()
	level, ok, err := s.storage.LookupPermission(username)
	if err != nil || !ok {
		metrics.AuthFailuresTotal.Inc()
		logger.Warn().Str("user", username).Msg("session: no permission record for authenticated user")
		return nil, false
	}

	logger.Info().Str("user", username).Msg("session: authenticated")
	return &storage.Principal{Username: username, Level: level}, true
}

// writeHandshakeFailure logs the failed step and sends a final
// HandshakeMessage carrying a generic error, then lets the caller close
// the connection. The step error itself is never sent to the client.
func writeHandshakeFailure(conn net.Conn, logger zerolog.Logger, username string, stepErr error) {
	metrics.AuthFailuresTotal.Inc()
	logger.Warn().Str("user", username).Err(stepErr).Msg("session: handshake failed")
	msg := protocol.HandshakeMessage{Done: true, Error: "authentication failed"}
	if err := writeHandshake(conn, msg); err != nil {
		logger.Debug().Err(err).Msg("session: write handshake failure")
	}
}

func readHandshake(r *bufio.Reader) (protocol.HandshakeMessage, error) {
	raw, err := readDocument(r)
	if err != nil {
		return protocol.HandshakeMessage{}, err
	}
	var msg protocol.HandshakeMessage
	if err := bson.Unmarshal(raw, &msg); err != nil {
		return protocol.HandshakeMessage{}, fmt.Errorf("session: decode handshake message: %w", err)
	}
	return msg, nil
}

func writeHandshake(conn net.Conn, msg protocol.HandshakeMessage) error {
	raw, err := bson.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session: encode handshake message: %w", err)
	}
	_, err = conn.Write(raw)
	return err
}

// dispatch decodes one request document, routes it by header.type, and
// always returns a Response: the session loop continues after any
// non-authentication error.
func (s *Server) dispatch(reqBytes []byte, principal *storage.Principal, logger zerolog.Logger) protocol.Response {
	var req protocol.Request
	if err := bson.Unmarshal(reqBytes, &req); err != nil {
		return protocol.Err(protoerr.New(protoerr.BadBson, "malformed request document"))
	}

	switch req.Header.Type {
	case protocol.TypePing:
		return protocol.OK(protoerr.Ok, req.Body)

	case protocol.TypeQuery:
		return s.dispatchQuery(req, principal, logger)

	case protocol.TypePreRequest, protocol.TypeCluster:
		return protocol.Err(protoerr.New(protoerr.InternalError, fmt.Sprintf("unsupported request type: %s", req.Header.Type)))

	default:
		return protocol.Err(protoerr.New(protoerr.InvalidBody, fmt.Sprintf("unknown request type: %s", req.Header.Type)))
	}
}

func (s *Server) dispatchQuery(req protocol.Request, principal *storage.Principal, logger zerolog.Logger) protocol.Response {
	bodyRaw, err := bson.Marshal(req.Body)
	if err != nil {
		return protocol.Err(protoerr.New(protoerr.InvalidBody, "malformed query body"))
	}
	var body protocol.QueryBody
	if err := bson.Unmarshal(bodyRaw, &body); err != nil {
		return protocol.Err(protoerr.New(protoerr.InvalidBody, "query body missing query/database"))
	}

	// Parsing runs on the pool too, so a pathological query string cannot
	// stall the reactor any more than its execution can.
	timer := metrics.NewTimer()
	type result struct {
		bodies []interface{}
		status protoerr.StatusCode
		perr   *protoerr.Error
	}
	raw, execErr := s.pool.Execute(context.Background(), func() (interface{}, error) {
		nodes, err := query.Parse(body.Query)
		if err != nil {
			return result{perr: protoerr.New(protoerr.SyntaxError, err.Error())}, nil
		}
		e := executor.New(s.storage, body.Database, principal)
		bodies, status, perr := e.Run(nodes)
		return result{bodies: bodies, status: status, perr: perr}, nil
	})
	if execErr != nil {
		return protocol.Err(protoerr.New(protoerr.InternalError, execErr.Error()))
	}
	res := raw.(result)

	status := res.status
	if status == "" {
		status = protoerr.Ok
	}
	if res.perr != nil {
		status = res.perr.Status
	}
	metrics.QueriesTotal.WithLabelValues(string(status)).Inc()
	timer.ObserveDurationVec(metrics.QueryDuration, string(status))

	if res.perr != nil {
		return protocol.Err(res.perr)
	}

	var responseBody interface{}
	switch len(res.bodies) {
	case 0:
		responseBody = nil
	case 1:
		responseBody = res.bodies[0]
	default:
		responseBody = res.bodies
	}
	return protocol.OK(status, responseBody)
}

// readDocument reads one length-framed BSON document from r: the leading
// 4 bytes are a little-endian int32 giving the document's total size
// (BSON's own framing), then the remaining size-4 bytes are the rest of
// the document.
func readDocument(r *bufio.Reader) ([]byte, error) {
	header, err := r.Peek(4)
	if err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	size := int32(binary.LittleEndian.Uint32(header))
	if size < 5 || int64(size) > maxDocumentSize {
		return nil, fmt.Errorf("session: invalid document size %d", size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("session: read document body: %w", err)
	}
	return buf, nil
}
