package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

func (ctl *SignalWSController) handleJoin(
	sid core.SessionID,
	conn *wsSignalConn,
	data []byte,
) {
	type joinPayload struct {
		Type string `json:"type"`
		Room string `json:"room"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	raw := p.Room
	if len(raw) > domain.MaxRoomIDLen {
		raw = raw[:domain.MaxRoomIDLen]
	}
	roomID := domain.RoomID(raw)

	pid, ok := ctl.Coord.Sessions.ParticipantOf(sid)
	if !ok {
		ctl.sendError(conn, "no_session")
		return
	}
	if !ctl.limiter.Allow(pid) {
		ctl.sendError(conn, "rate_limited")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Msg("join")
	if err := ctl.Coord.Join(sid, roomID); err != nil {
		// room-full already went out as an event; other failures surface here.
		if !errors.Is(err, domain.ErrRoomFull) {
			ctl.sendError(conn, err.Error())
		}
		return
	}

	members, err := ctl.Coord.Rooms.Members(roomID)
	if err != nil {
		return
	}
	host, _ := ctl.Coord.Rooms.Host(roomID)
	resp := struct {
		Type    string                 `json:"type"`
		Room    domain.RoomID          `json:"room"`
		Host    domain.ParticipantID   `json:"host"`
		Members []domain.ParticipantID `json:"members"`
		Count   int                    `json:"count"`
	}{
		Type:    "room-state",
		Room:    roomID,
		Host:    host,
		Members: members,
		Count:   len(members),
	}
	ctl.sendJSON(conn, resp)
}

// handleLeave exits the current room; the connection itself stays up.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn *wsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Coord.Leave(sid)
	ctl.sendJSON(conn, map[string]any{
		"type": "left",
	})
}

func (ctl *SignalWSController) handleKick(
	sid core.SessionID,
	conn *wsSignalConn,
	data []byte,
) {
	type kickPayload struct {
		Type   string `json:"type"`
		Target string `json:"target"`
	}
	var p kickPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Target == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad kick payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	if err := ctl.Coord.Kick(sid, domain.ParticipantID(p.Target)); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("target", p.Target).Msg("kick rejected")
		switch {
		case errors.Is(err, domain.ErrNotAuthorized):
			ctl.sendError(conn, "not_authorized")
		case errors.Is(err, domain.ErrNotInRoom):
			ctl.sendError(conn, "not_in_room")
		default:
			ctl.sendError(conn, err.Error())
		}
	}
}

// handleRequestHost answers the idempotent "who is the host" query from
// current room state.
func (ctl *SignalWSController) handleRequestHost(
	sid core.SessionID,
	conn *wsSignalConn,
) {
	host, err := ctl.Coord.Host(sid)
	if err != nil {
		ctl.sendError(conn, "not_in_room")
		return
	}
	pid, _ := ctl.Coord.Sessions.ParticipantOf(sid)
	resp := struct {
		Type   string               `json:"type"`
		Host   domain.ParticipantID `json:"host"`
		IsHost bool                 `json:"is_host"`
	}{
		Type:   "host-assigned",
		Host:   host,
		IsHost: host == pid,
	}
	ctl.sendJSON(conn, resp)
}
