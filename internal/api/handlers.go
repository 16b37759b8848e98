package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"firestige.xyz/textcast/internal/core"
	"firestige.xyz/textcast/internal/history"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// statusFromErr maps the error taxonomy onto HTTP codes: state guards
// conflict, validation is the caller's fault, device unreachability is
// upstream unavailability.
func statusFromErr(err error) int {
	switch {
	case errors.Is(err, core.ErrAlreadyActive),
		errors.Is(err, core.ErrAlreadyConnecting),
		errors.Is(err, core.ErrDisconnecting),
		errors.Is(err, core.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, core.ErrTextTooLong):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNetworkUnreachable),
		errors.Is(err, core.ErrTimeout),
		errors.Is(err, core.ErrRefused),
		errors.Is(err, core.ErrAppLaunchRejected):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.ctrl.Connect(r.Context())
	status := s.ctrl.GetStatus()
	if err != nil {
		s.logger.WithError(err).Warnf("api: connect to %s failed", status.DeviceAddress)
		writeJSON(w, statusFromErr(err), map[string]any{
			"success":        false,
			"error":          err.Error(),
			"device_address": status.DeviceAddress,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "connected and display page cast",
		"session_id":     sessionID,
		"device_name":    status.DeviceName,
		"device_address": status.DeviceAddress,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Disconnect(r.Context()); err != nil {
		writeJSON(w, statusFromErr(err), map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "disconnected from TV",
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errorJSON(w, http.StatusBadRequest, "missing 'text' field in request body")
		return
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		errorJSON(w, http.StatusBadRequest, "'text' must not be empty")
		return
	}

	res, err := s.ctrl.SendText(r.Context(), text)
	if err != nil {
		writeJSON(w, statusFromErr(err), map[string]any{
			"success": false,
			"error":   "failed to send text to TV",
			"detail":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"latency_ms": res.LatencyMS,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.GetStatus())
}

// handleCurrentText serves the display page's poll target. No store
// access, just the in-memory text and its version counter.
func (s *Server) handleCurrentText(w http.ResponseWriter, r *http.Request) {
	text, version := s.ctrl.CurrentText()
	writeJSON(w, http.StatusOK, map[string]any{
		"text":    text,
		"version": version,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	s.logger.Infof("tv heartbeat from %s", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// parseLimit reads the optional limit query parameter. Zero means the
// store default; a malformed value is reported instead of ignored.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return limit, true
}

func (s *Server) handleMessageHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		errorJSON(w, http.StatusBadRequest, "invalid 'limit' parameter, must be an integer")
		return
	}

	messages := []history.Message{}
	if s.hist != nil {
		found, err := s.hist.RecentMessages(r.Context(), limit)
		if err != nil {
			s.logger.WithError(err).Error("api: message history query failed")
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":    "could not fetch message history",
				"messages": messages,
			})
			return
		}
		if found != nil {
			messages = found
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		errorJSON(w, http.StatusBadRequest, "invalid 'limit' parameter, must be an integer")
		return
	}

	sessions := []history.SessionRecord{}
	if s.hist != nil {
		found, err := s.hist.RecentSessions(r.Context(), limit)
		if err != nil {
			s.logger.WithError(err).Error("api: session history query failed")
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":    "could not fetch sessions",
				"sessions": sessions,
			})
			return
		}
		if found != nil {
			sessions = found
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

type packetStatsResponse struct {
	Capturing         bool                  `json:"capturing"`
	SessionID         string                `json:"session_id,omitempty"`
	TotalPackets      uint64                `json:"total_packets"`
	TotalBytes        uint64                `json:"total_bytes"`
	Dropped           uint64                `json:"dropped"`
	ProtocolBreakdown map[string]uint64     `json:"protocol_breakdown"`
	RecentPackets     []core.PacketRecord   `json:"recent_packets"`
	History           *history.PacketRollup `json:"history,omitempty"`
}

// handlePacketStats combines the live snapshot with the stored rollup.
// limit bounds recent_packets; session_id scopes the rollup.
func (s *Server) handlePacketStats(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		errorJSON(w, http.StatusBadRequest, "invalid 'limit' parameter, must be an integer")
		return
	}
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}

	var snap core.TrafficSnapshot
	if s.traffic != nil {
		snap = s.traffic.Snapshot()
	}

	resp := packetStatsResponse{
		Capturing:         snap.Capturing,
		SessionID:         snap.SessionID,
		TotalPackets:      snap.TotalPackets,
		TotalBytes:        snap.TotalBytes,
		Dropped:           snap.Dropped,
		ProtocolBreakdown: snap.ByProtocol,
		RecentPackets:     recentNewestFirst(snap.RecentPackets, limit),
	}
	if resp.ProtocolBreakdown == nil {
		resp.ProtocolBreakdown = map[string]uint64{}
	}

	if s.hist != nil {
		rollup, err := s.hist.PacketTotals(r.Context(), r.URL.Query().Get("session_id"))
		if err != nil {
			s.logger.WithError(err).Warn("api: packet rollup query failed")
		} else {
			resp.History = &rollup
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// recentNewestFirst takes the tail of the oldest-first window and
// reverses it, so clients see the latest packet first.
func recentNewestFirst(records []core.PacketRecord, limit int) []core.PacketRecord {
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]core.PacketRecord, len(records))
	for i, rec := range records {
		out[len(records)-1-i] = rec
	}
	return out
}
