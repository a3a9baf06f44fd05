package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/config"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const joinRateLimit = 10

type SignalWSController struct {
	Coord      *app.Coordinator
	limiter    *RoomRateLimiter
	readLimit  int64
	pingPeriod time.Duration
}

func NewSignalWSController(coord *app.Coordinator, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Coord:      coord,
		limiter:    NewRoomRateLimiter(joinRateLimit, time.Minute),
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
	}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Deliver implements app.EventSink: one membership event to one session.
func (ctl *SignalWSController) Deliver(sid core.SessionID, ev core.MembershipEvent) error {
	sess, ok := ctl.Coord.Sessions.Get(sid)
	if !ok {
		return errors.New("no session")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return sess.Signal().TrySend(b)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))

	raw := c.Query("participant")
	if raw == "" {
		raw = uuid.NewString()
	}
	participant, err := domain.NewParticipant(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).
		Str("participant", string(participant.ID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	meta := domain.NewMember(participant)
	sess := core.NewMemberSession(meta, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Coord.Sessions.Bind(sid, participant.ID, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
