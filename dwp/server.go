package dwp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/popgate/stream"
)

// Server accepts DWP WebSocket connections. Each connection gets one
// broker subscriber whose events are forwarded as event frames.
type Server struct {
	broker       *stream.Broker
	handler      *Handler
	auth         Authenticator
	defaultCodec Codec
	conns        *ConnectionManager
	logger       *slog.Logger
	authTimeout  time.Duration
}

// NewServer creates a new DWP server.
func NewServer(broker *stream.Broker, handler *Handler, opts ...Option) *Server {
	s := &Server{
		broker:       broker,
		handler:      handler,
		defaultCodec: &JSONCodec{},
		conns:        NewConnectionManager(),
		logger:       slog.Default(),
		authTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = &NoopAuthenticator{}
	}
	return s
}

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// Close drops every open connection.
func (s *Server) Close() { s.conns.CloseAll() }

// ServeHTTP upgrades the request to a WebSocket and serves the session
// until either side closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("dwp upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	codec := s.defaultCodec
	if format := r.URL.Query().Get("format"); format != "" {
		codec = GetCodec(format)
	}

	if err := s.serve(r.Context(), conn, codec); err != nil {
		s.logger.Info("dwp session ended", slog.String("error", err.Error()))
	}
}

func (s *Server) serve(ctx context.Context, raw net.Conn, codec Codec) error {
	connID := GenerateFrameID()

	identity, codec, authFrame, err := s.authenticate(ctx, raw, codec)
	if err != nil {
		return err
	}

	dc := NewConnection(connID, raw, identity, codec)
	s.conns.Add(dc)
	sub := s.broker.Subscribe(connID)
	defer func() {
		s.broker.RemoveSubscriber(connID)
		s.conns.Remove(connID)
		s.logger.Info("dwp disconnected", slog.String("conn_id", connID))
	}()

	resp, err := NewResponseFrame(authFrame.ID, AuthResponse{Format: codec.Name(), SessionID: connID})
	if err != nil {
		return fmt.Errorf("dwp: marshal auth response: %w", err)
	}
	if err := dc.WriteFrame(resp); err != nil {
		return err
	}
	s.logger.Info("dwp authenticated",
		slog.String("conn_id", connID),
		slog.String("subject", identity.Subject),
		slog.String("codec", codec.Name()),
	)

	go s.forwardEvents(dc, sub)

	for {
		data, _, err := wsutil.ReadClientData(raw)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return nil
			}
			return fmt.Errorf("dwp: read: %w", err)
		}
		dc.Touch()

		frame, err := codec.Decode(data)
		if err != nil {
			s.write(dc, NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+err.Error()))
			continue
		}

		switch {
		case frame.Type == FramePing:
			s.write(dc, &Frame{
				ID:        GenerateFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: time.Now().UTC(),
			})
		case frame.Credits > 0 && frame.Method == "":
			sub.AddCredits(int64(frame.Credits))
		default:
			if scope := RequiredScope(frame.Method); scope != "" && !identity.HasScope(scope) {
				s.write(dc, NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions"))
				continue
			}
			if resp := s.handler.Handle(ctx, frame, dc); resp != nil {
				s.write(dc, resp)
			}
		}
	}
}

// authenticate reads the first frame, which must be an auth request. The
// frame is decoded with the codec matching its message type; the auth
// payload may switch the session codec.
func (s *Server) authenticate(ctx context.Context, raw net.Conn, codec Codec) (*Identity, Codec, *Frame, error) {
	if err := raw.SetReadDeadline(time.Now().Add(s.authTimeout)); err != nil {
		return nil, nil, nil, err
	}
	data, op, err := wsutil.ReadClientData(raw)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dwp: read auth frame: %w", err)
	}
	if err := raw.SetReadDeadline(time.Time{}); err != nil {
		return nil, nil, nil, err
	}

	reject := func(correlID string, code int, msg string) {
		f, _ := codec.Encode(NewErrorFrame(correlID, code, msg)) //nolint:errcheck // error frames always encode
		_ = wsutil.WriteServerMessage(raw, codec.OpCode(), f)    //nolint:errcheck // best-effort before disconnect
	}

	frameCodec := codec
	if op == ws.OpBinary {
		frameCodec = &MsgpackCodec{}
	} else if codec.Name() != CodecNameJSON {
		frameCodec = &JSONCodec{}
	}
	frame, err := frameCodec.Decode(data)
	if err != nil {
		reject("", ErrCodeBadRequest, "invalid auth frame")
		return nil, nil, nil, fmt.Errorf("dwp: decode auth frame: %w", err)
	}
	if frame.Method != MethodAuth {
		reject(frame.ID, ErrCodeBadRequest, "first frame must be auth")
		return nil, nil, nil, fmt.Errorf("dwp: expected auth frame, got %q", frame.Method)
	}

	var req AuthRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		reject(frame.ID, ErrCodeBadRequest, "invalid auth data")
		return nil, nil, nil, errors.New("dwp: invalid auth data")
	}
	if req.Token == "" {
		req.Token = frame.Token
	}

	identity, err := s.auth.Authenticate(ctx, req.Token)
	if err != nil {
		reject(frame.ID, ErrCodeUnauthorized, "authentication failed")
		return nil, nil, nil, fmt.Errorf("dwp: auth failed: %w", err)
	}

	if req.Format != "" {
		codec = GetCodec(req.Format)
	}
	return identity, codec, frame, nil
}

// forwardEvents writes broker events to the connection until the
// subscriber closes. A closed subscriber ends the session.
func (s *Server) forwardEvents(dc *Connection, sub *stream.Subscriber) {
	for evt := range sub.C() {
		frame, err := NewEventFrame(evt.Topic, evt)
		if err != nil {
			continue
		}
		if err := dc.WriteFrame(frame); err != nil {
			return
		}
	}
	_ = dc.conn.Close() //nolint:errcheck // ends the read loop
}

func (s *Server) write(dc *Connection, frame *Frame) {
	if err := dc.WriteFrame(frame); err != nil {
		s.logger.Warn("dwp write failed",
			slog.String("conn_id", dc.ID),
			slog.String("frame_type", string(frame.Type)),
			slog.String("error", err.Error()),
		)
	}
}
