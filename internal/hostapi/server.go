package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/voxmemo/voxmemo/internal/observe"
	"github.com/voxmemo/voxmemo/internal/voice"
)

const (
	writeTimeout = 5 * time.Second
	readLimit    = 4096
)

// Controls is the part of the voice controller the host drives.
type Controls interface {
	SetEnabled(on bool)
	SetAssistantSpeaking(on bool)
	Toggle(on bool)
	Retry()
	Status() voice.Status
}

var _ Controls = (*voice.Controller)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithOriginPatterns allows cross-origin WebSocket upgrades from hosts
// matching patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server serves the host control channel.
type Server struct {
	ctl     Controls
	hub     *Hub
	origins []string
}

// NewServer returns a [Server] dispatching host commands to ctl and
// streaming hub broadcasts back.
func NewServer(ctl Controls, hub *Hub, opts ...Option) *Server {
	s := &Server{ctl: ctl, hub: hub}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the host API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/voice/ws", s.handleWS)
	mux.HandleFunc("GET /v1/voice/status", s.handleStatus)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(s.ctl.Status())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		observe.Logger(r.Context()).Warn("hostapi: websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := s.hub.add(cancel)
	defer s.hub.remove(c)
	log := observe.Logger(ctx).With("conn_id", c.id)
	log.Info("hostapi: host connected", "remote", r.RemoteAddr)

	c.offer(stateEvent(s.ctl.Status()))

	go s.readLoop(ctx, cancel, conn, c, log)
	err = s.writeLoop(ctx, conn, c)

	switch {
	case c.dropped.Load():
		conn.Close(websocket.StatusPolicyViolation, "host too slow")
	case err != nil && !errors.Is(err, context.Canceled):
		log.Warn("hostapi: write failed", "err", err)
		conn.Close(websocket.StatusInternalError, "write failed")
	default:
		conn.Close(websocket.StatusNormalClosure, "")
	}
	log.Info("hostapi: host disconnected")
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.send:
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("hostapi: encode %s event: %w", ev.Type, err)
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client, log *slog.Logger) {
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if st := websocket.CloseStatus(err); st != websocket.StatusNormalClosure && st != websocket.StatusGoingAway && ctx.Err() == nil {
				log.Debug("hostapi: read ended", "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			c.offer(errorEvent("binary frames are not supported"))
			continue
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.offer(errorEvent("malformed command"))
			continue
		}
		if err := s.dispatch(cmd); err != nil {
			c.offer(errorEvent(err.Error()))
			continue
		}
		log.Debug("hostapi: command", "type", cmd.Type)
	}
}

func (s *Server) dispatch(cmd Command) error {
	switch cmd.Type {
	case CmdEnable:
		s.ctl.SetEnabled(true)
	case CmdDisable:
		s.ctl.SetEnabled(false)
	case CmdAssistantSpeaking:
		s.ctl.SetAssistantSpeaking(cmd.Speaking)
	case CmdToggle:
		s.ctl.Toggle(cmd.Enabled)
	case CmdRetry:
		s.ctl.Retry()
	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
	return nil
}
