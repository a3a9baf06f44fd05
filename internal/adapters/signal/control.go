package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

func (ctl *SignalWSController) handlePing(
	conn *wsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

// handleMute is the host muting/unmuting another participant.
func (ctl *SignalWSController) handleMute(
	sid core.SessionID,
	conn *wsSignalConn,
	data []byte,
) {
	type mutePayload struct {
		Type   string `json:"type"`
		Target string `json:"target"`
		Muted  bool   `json:"muted"`
	}
	var p mutePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Target == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad mute payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Coord.SetMute(sid, domain.ParticipantID(p.Target), p.Muted); err != nil {
		if errors.Is(err, domain.ErrNotAuthorized) {
			ctl.sendError(conn, "not_authorized")
			return
		}
		ctl.sendError(conn, err.Error())
	}
}

// handleToggleMute announces the participant's own mute state to the room.
func (ctl *SignalWSController) handleToggleMute(
	sid core.SessionID,
	conn *wsSignalConn,
	data []byte,
) {
	type togglePayload struct {
		Type  string `json:"type"`
		Muted bool   `json:"muted"`
	}
	var p togglePayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Coord.AnnounceMute(sid, p.Muted); err != nil {
		ctl.sendError(conn, "not_in_room")
	}
}

func (ctl *SignalWSController) handleToggleVideo(
	sid core.SessionID,
	conn *wsSignalConn,
	data []byte,
) {
	type togglePayload struct {
		Type    string `json:"type"`
		Enabled bool   `json:"enabled"`
	}
	var p togglePayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Coord.AnnounceVideo(sid, p.Enabled); err != nil {
		ctl.sendError(conn, "not_in_room")
	}
}

func (ctl *SignalWSController) handleEndMeeting(
	sid core.SessionID,
	conn *wsSignalConn,
) {
	if err := ctl.Coord.EndMeeting(sid); err != nil {
		if errors.Is(err, domain.ErrNotAuthorized) {
			ctl.sendError(conn, "not_authorized")
			return
		}
		ctl.sendError(conn, "not_in_room")
	}
}
