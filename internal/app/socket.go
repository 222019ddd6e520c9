package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"taskhub/api/internal/config"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/realtime"
)

const (
	socketWriteTimeout  = 10 * time.Second
	defaultMaxFrameSize = 64 << 10
)

// Gateway is the WebSocket transport: one reader and one writer goroutine per
// connection, with room bookkeeping delegated to the router.
type Gateway struct {
	service *Service
	router  *realtime.Router
	cfg     config.Realtime
	log     zerolog.Logger
}

func NewGateway(service *Service, router *realtime.Router, cfg config.Realtime, log zerolog.Logger) *Gateway {
	return &Gateway{
		service: service,
		router:  router,
		cfg:     cfg,
		log:     log.With().Str("component", "gateway").Logger(),
	}
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type socketSession struct {
	conn    *realtime.Connection
	actor   Actor
	limiter *rate.Limiter
	ctx     context.Context
}

// lockedWriter serialises frame writes; the reader answers control frames on
// the same socket.
type lockedWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(p)
}

type socketReadWriter struct {
	io.Reader
	io.Writer
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	actor, err := g.service.Authenticate(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		g.log.Warn().Err(err).Str("actor", actor.ID).Msg("websocket upgrade failed")
		return
	}
	g.serve(context.WithoutCancel(r.Context()), netConn, actor)
}

func (g *Gateway) serve(ctx context.Context, netConn net.Conn, actor Actor) {
	defer netConn.Close()

	registry := g.router.Registry()
	id := uuid.NewString()
	conn, err := registry.Register(id)
	if err != nil {
		g.log.Error().Err(err).Str("connection", id).Msg("register connection")
		return
	}
	if err := registry.Identify(id, actor.ID, string(actor.Role)); err != nil {
		g.log.Error().Err(err).Str("connection", id).Msg("identify connection")
		_ = registry.Deregister(id)
		return
	}
	log := g.log.With().Str("connection", id).Str("actor", actor.ID).Logger()
	log.Info().Msg("socket connected")

	writer := &lockedWriter{conn: netConn}
	go g.writeLoop(log, netConn, writer, conn)

	session := &socketSession{
		conn:    conn,
		actor:   actor,
		limiter: g.newLimiter(),
		ctx:     ctx,
	}
	g.readLoop(log, netConn, socketReadWriter{Reader: netConn, Writer: writer}, session)

	if err := registry.Deregister(id); err != nil && !errors.Is(err, realtime.ErrUnknownConnection) {
		log.Error().Err(err).Msg("deregister connection")
	}
	log.Info().Msg("socket disconnected")
}

func (g *Gateway) newLimiter() *rate.Limiter {
	limit := rate.Limit(g.cfg.InboundRate)
	if g.cfg.InboundRate <= 0 {
		limit = rate.Inf
	}
	burst := g.cfg.InboundBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

func (g *Gateway) writeLoop(log zerolog.Logger, netConn net.Conn, w io.Writer, conn *realtime.Connection) {
	timeout := g.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = socketWriteTimeout
	}
	var ping <-chan time.Time
	if g.cfg.IdleTimeout > 0 {
		ticker := time.NewTicker(g.cfg.IdleTimeout / 2)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		op, frame := ws.OpText, []byte(nil)
		select {
		case frame = <-conn.Outbound():
		case <-ping:
			op = ws.OpPing
		case <-conn.Done():
			return
		}
		_ = netConn.SetWriteDeadline(time.Now().Add(timeout))
		if err := wsutil.WriteServerMessage(w, op, frame); err != nil {
			log.Debug().Err(err).Msg("socket write failed")
			conn.Close()
			_ = netConn.Close()
			return
		}
	}
}

// readLoop refreshes the idle deadline before every frame, so control frames
// such as pongs keep a quiet client alive.
func (g *Gateway) readLoop(log zerolog.Logger, netConn net.Conn, rw io.ReadWriter, session *socketSession) {
	limit := g.cfg.MaxFrameSize
	if limit <= 0 {
		limit = defaultMaxFrameSize
	}
	control := wsutil.ControlFrameHandler(rw, ws.StateServerSide)
	reader := &wsutil.Reader{
		Source:         rw,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   limit,
		OnIntermediate: control,
	}

	for {
		if g.cfg.IdleTimeout > 0 {
			_ = netConn.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))
		}
		data, err := nextTextMessage(reader, control, limit)
		if err != nil {
			var closed wsutil.ClosedError
			var netErr net.Error
			switch {
			case errors.Is(err, wsutil.ErrFrameTooLarge):
				log.Warn().Int64("limit", limit).Msg("inbound frame too large")
				_ = netConn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
				_ = wsutil.WriteServerMessage(rw, ws.OpClose, ws.NewCloseFrameBody(ws.StatusMessageTooBig, "frame too large"))
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Info().Dur("idle", g.cfg.IdleTimeout).Msg("socket idle timeout")
			case !errors.As(err, &closed) && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed):
				log.Debug().Err(err).Msg("socket read ended")
			}
			return
		}
		if !session.limiter.Allow() {
			g.replyError(session.conn, "RATE_LIMITED", "Too many events")
			continue
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			g.replyError(session.conn, "BAD_FRAME", "Frames must be {\"event\", \"data\"} objects")
			continue
		}
		g.dispatch(log, session, frame)
	}
}

// nextTextMessage answers control frames, skips binary messages and returns
// the next text message. A message longer than limit across all of its
// fragments fails with wsutil.ErrFrameTooLarge.
func nextTextMessage(rd *wsutil.Reader, control wsutil.FrameHandlerFunc, limit int64) ([]byte, error) {
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		data, err := io.ReadAll(io.LimitReader(rd, limit+1))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > limit {
			return nil, wsutil.ErrFrameTooLarge
		}
		return data, nil
	}
}

func (g *Gateway) dispatch(log zerolog.Logger, session *socketSession, frame inboundFrame) {
	switch frame.Event {
	case "joinTask":
		g.membership(log, session, frame, realtime.TaskRoom, true)
	case "leaveTask":
		g.membership(log, session, frame, realtime.TaskRoom, false)
	case "joinRoom":
		g.membership(log, session, frame, realtime.TeamRoom, true)
	case "leaveRoom":
		g.membership(log, session, frame, realtime.TeamRoom, false)
	case "joinProject":
		g.membership(log, session, frame, realtime.ProjectRoom, true)
	case "leaveProject":
		g.membership(log, session, frame, realtime.ProjectRoom, false)
	case "joinUserRoom":
		g.joinUserRoom(log, session, decodeRoomID(frame.Data))
	case "sendComment":
		var body struct {
			TaskID  string `json:"taskId"`
			Text    string `json:"text"`
			Comment struct {
				ID            string  `json:"_id"`
				Text          string  `json:"text"`
				ParentComment *string `json:"parentComment"`
			} `json:"comment"`
		}
		if err := json.Unmarshal(frame.Data, &body); err != nil || strings.TrimSpace(body.TaskID) == "" {
			g.replyError(session.conn, "VALIDATION_ERROR", "taskId is required")
			return
		}
		text := body.Comment.Text
		if text == "" {
			text = body.Text
		}
		ctx, cancel := context.WithTimeout(session.ctx, 10*time.Second)
		defer cancel()
		_, err := g.service.RelayComment(ctx, session.actor, RelayCommentInput{
			TaskID:        body.TaskID,
			CommentID:     body.Comment.ID,
			Text:          text,
			ParentComment: body.Comment.ParentComment,
		})
		if err != nil {
			_, code, message, _ := mapError(err)
			g.replyError(session.conn, code, message)
		}
	case "sendMessage":
		var body struct {
			TeamID  string `json:"teamId"`
			Text    string `json:"text"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			g.replyError(session.conn, "VALIDATION_ERROR", "Invalid message payload")
			return
		}
		text := body.Text
		if text == "" {
			text = body.Content
		}
		ctx, cancel := context.WithTimeout(session.ctx, 10*time.Second)
		defer cancel()
		if _, err := g.service.SendMessage(ctx, session.actor, SendMessageInput{TeamID: body.TeamID, Text: text}); err != nil {
			_, code, message, _ := mapError(err)
			g.replyError(session.conn, code, message)
		}
	default:
		g.replyError(session.conn, "UNKNOWN_EVENT", "Unknown event "+frame.Event)
	}
}

// joinUserRoom checks the principal the registry holds for the connection. A
// blank id joins the principal's own room.
func (g *Gateway) joinUserRoom(log zerolog.Logger, session *socketSession, userID string) {
	principal, role := session.conn.Principal()
	if userID == "" {
		userID = principal
	}
	if userID != principal && !rbac.Can(rbac.Role(role), rbac.ActionImpersonateRoom) {
		g.replyError(session.conn, "FORBIDDEN", "You can only join your own notification room")
		return
	}
	g.changeMembership(log, session.conn.ID, realtime.UserRoom(userID), true)
}

func (g *Gateway) membership(log zerolog.Logger, session *socketSession, frame inboundFrame, room func(string) realtime.RoomKey, join bool) {
	key := room(decodeRoomID(frame.Data))
	if join && key.Valid() {
		ctx, cancel := context.WithTimeout(session.ctx, 5*time.Second)
		defer cancel()
		if err := g.service.AuthorizeJoin(ctx, session.actor, key); err != nil {
			_, code, message, _ := mapError(err)
			log.Debug().Err(err).Str("room", string(key)).Msg("join refused")
			g.replyError(session.conn, code, message)
			return
		}
	}
	g.changeMembership(log, session.conn.ID, key, join)
}

func (g *Gateway) changeMembership(log zerolog.Logger, connID string, key realtime.RoomKey, join bool) {
	var err error
	if join {
		err = g.router.JoinRoom(connID, key)
	} else {
		err = g.router.LeaveRoom(connID, key)
	}
	if err != nil {
		log.Debug().Err(err).Str("room", string(key)).Bool("join", join).Msg("membership change skipped")
		return
	}
	log.Debug().Str("room", string(key)).Bool("join", join).Msg("membership changed")
}

func (g *Gateway) replyError(conn *realtime.Connection, code, message string) {
	frame, err := json.Marshal(realtime.Envelope{Event: "error", Data: map[string]any{"code": code, "message": message}})
	if err != nil {
		return
	}
	conn.Enqueue(frame)
}

// decodeRoomID accepts a bare JSON string or an object carrying one of the
// id fields clients send.
func decodeRoomID(raw json.RawMessage) string {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var body struct {
		ID        string `json:"id"`
		TaskID    string `json:"taskId"`
		TeamID    string `json:"teamId"`
		ProjectID string `json:"projectId"`
		UserID    string `json:"userId"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	for _, candidate := range []string{body.ID, body.TaskID, body.TeamID, body.ProjectID, body.UserID} {
		if strings.TrimSpace(candidate) != "" {
			return strings.TrimSpace(candidate)
		}
	}
	return ""
}
