package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/miloview/miloview/internal/block"
	"github.com/miloview/miloview/internal/bus"
	"github.com/miloview/miloview/internal/store"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := ""
	if s.machine != nil {
		state = string(s.machine.Current())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"state":         state,
		"demoMode":      s.controller.Status().DemoMode,
		"uptimeSeconds": int(time.Since(s.started).Seconds()),
		"totalMessages": s.cache.Len(),
	})
}

// conversationSummary is one row of the dashboard's conversation list.
type conversationSummary struct {
	ContactNumber   string    `json:"contactNumber"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageDate time.Time `json:"lastMessageDate"`
	TotalMessages   int       `json:"totalMessages"`
	Blocked         bool      `json:"blocked"`
}

func (s *Server) conversationSummaries(p store.Partition) []conversationSummary {
	convs := s.cache.Conversations(p, s.blocklist)
	out := make([]conversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationSummary{
			ContactNumber:   c.ContactNumber,
			LastMessage:     c.LastMessage,
			LastMessageDate: c.LastMessageDate,
			TotalMessages:   c.TotalMessages,
			Blocked:         s.blocklist.IsBlocked(c.ContactNumber),
		})
	}
	return out
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	// An empty cache answers immediately with the empty state and
	// kicks a background sync; reads never wait on the upstream.
	s.controller.SyncIfEmpty(s.lookback)

	p := store.Partition(r.URL.Query().Get("partition"))
	switch p {
	case "", store.PartitionAll:
		p = store.PartitionAll
	case store.PartitionNormal, store.PartitionBlocked:
	default:
		writeError(w, http.StatusBadRequest, "unknown partition")
		return
	}
	summaries := s.conversationSummaries(p)
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": summaries,
		"count":         len(summaries),
	})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	msgs := s.cache.ConversationMessages(number)
	if len(msgs) == 0 {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contactNumber": number,
		"messages":      msgs,
		"totalMessages": len(msgs),
		"blocked":       s.blocklist.IsBlocked(number),
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	m, ok := s.cache.MessageBySID(r.PathValue("sid"))
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.controller.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"totalMessages":      s.cache.Len(),
		"totalConversations": s.cache.ConversationCount(),
		"blockedNumbers":     s.blocklist.Count(),
		"lastSync":           st.LastSync,
		"lastAttempt":        st.LastAttempt,
		"syncInProgress":     st.InProgress,
		"demoMode":           st.DemoMode,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	// An empty body means the configured default window.
	_ = json.NewDecoder(r.Body).Decode(&req)

	lookback := s.lookback
	if req.Days > 0 {
		lookback = time.Duration(req.Days) * 24 * time.Hour
	}
	ran, err := s.controller.Full(r.Context(), lookback)
	if !ran {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status": "sync already in progress",
		})
		return
	}
	if err != nil {
		s.logger.Error("refresh failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "refreshed",
		"days":          int(lookback.Hours() / 24),
		"totalMessages": s.cache.Len(),
	})
}

func (s *Server) handleSyncToday(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	added, err := s.controller.SyncSince(r.Context(), midnight)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"newMessages":   added,
		"totalMessages": s.cache.Len(),
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.controller.ClearAndResync(s.lookback)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "cache cleared, resync started",
	})
}

func (s *Server) handleBlockNumber(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phoneNumber"`
		Action      string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}
	action := req.Action
	if action == "" {
		action = block.ActionBlock
	}

	var err error
	switch action {
	case block.ActionBlock:
		err = s.blocklist.Block(req.PhoneNumber)
	case block.ActionUnblock:
		err = s.blocklist.Unblock(req.PhoneNumber)
	default:
		writeError(w, http.StatusBadRequest, "action must be block or unblock")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	number := block.Normalize(req.PhoneNumber)
	s.bus.Emit(bus.KindBlockChanged, bus.BlockChangedPayload{
		PhoneNumber: number,
		Action:      action,
		Timestamp:   time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"phoneNumber":    number,
		"action":         action,
		"blockedNumbers": s.blocklist.List(),
	})
}

func (s *Server) handleBlockedNumbers(w http.ResponseWriter, r *http.Request) {
	numbers := s.blocklist.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"blockedNumbers": numbers,
		"count":          len(numbers),
	})
}

func (s *Server) handleCheckBlocked(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	writeJSON(w, http.StatusOK, map[string]any{
		"phoneNumber": block.Normalize(number),
		"blocked":     s.blocklist.IsBlocked(number),
	})
}

// handleSMSWebhook answers the messaging gateway's inbound-message
// callback. Blocked senders get the auto-reply TwiML, everyone else an
// empty acknowledgement; the actual message lands through sync.
func (s *Server) handleSMSWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	from := r.PostFormValue("From")

	w.Header().Set("Content-Type", "text/xml")
	if from != "" && s.blocklist.IsBlocked(from) {
		s.logger.Info("auto-replied to blocked sender",
			zap.String("from", block.Normalize(from)))
		_, _ = w.Write([]byte(block.AutoReplyTwiML("")))
		return
	}
	_, _ = w.Write([]byte(block.EmptyTwiML()))
}
