package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yapit-tts/yapit-sub000/internal/dispatcher"
	"github.com/yapit-tts/yapit-sub000/internal/fanout"
	"github.com/yapit-tts/yapit-sub000/internal/fingerprint"
)

// handleWebSocket upgrades the request and runs one session's read loop
// until the client disconnects. Auth happens before upgrade so a
// rejected caller gets a normal HTTP error instead of a half-open socket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := s.upgrader
	if token := bearerFromSubprotocol(r); token != "" {
		upgrader.Subprotocols = []string{"bearer." + token}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("httpapi: upgrade failed", "error", err)
		return
	}

	sess := &session{
		userID: userID,
		conn:   conn,
		srv:    s,
		send:   make(chan []byte, 32),
		subs:   make(map[string]func()),
	}
	sess.run()
}

// session is one authenticated WebSocket connection: a reader goroutine
// (this call's own goroutine) decoding client messages, and a writer
// goroutine draining send and keeping the connection alive with pings —
// gorilla/websocket requires a single writer per connection, so every
// outbound frame (pubsub forwards and direct replies alike) funnels
// through send.
type session struct {
	userID string
	conn   *websocket.Conn
	srv    *Server

	mu   sync.Mutex
	subs map[string]func() // document_id -> pubsub unsubscribe

	send chan []byte
}

func (sess *session) run() {
	s := sess.srv
	if s.metrics != nil {
		s.metrics.WSConnections.Inc()
	}

	done := make(chan struct{})
	go sess.writeLoop(done)

	defer func() {
		close(done)
		sess.unsubscribeAll()
		_ = sess.conn.Close()
		if s.metrics != nil {
			s.metrics.WSConnections.Dec()
		}
	}()

	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("httpapi: read error", "user_id", sess.userID, "error", err)
			}
			return
		}
		sess.handleMessage(payload)
	}
}

func (sess *session) writeLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-sess.send:
			if !ok {
				return
			}
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (sess *session) reply(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case sess.send <- payload:
	default:
		// Writer is backed up; dropping a reply is preferable to blocking
		// the read loop (and therefore ping/pong liveness) indefinitely.
	}
}

func (sess *session) handleMessage(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		sess.reply(newErrorMessage("malformed message"))
		return
	}

	switch env.Type {
	case "synthesize":
		sess.handleSynthesize(payload)
	case "cursor_moved":
		sess.handleCursorMoved(payload)
	default:
		sess.reply(newErrorMessage("unknown message type: " + env.Type))
	}
}

func (sess *session) handleSynthesize(payload []byte) {
	s := sess.srv
	var msg synthesizeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		sess.reply(newErrorMessage("malformed synthesize message"))
		return
	}
	if len(msg.BlockIndices) != len(msg.Texts) {
		sess.reply(newErrorMessage("block_indices and texts must be the same length"))
		return
	}

	if msg.Codec == "" {
		msg.Codec = "mp3"
	}

	ctx := context.Background()

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, sess.userID)
		if err != nil {
			s.logger.Error("httpapi: rate limit check failed", "user_id", sess.userID, "error", err)
		} else if !allowed {
			sess.reply(newErrorMessage("Rate limit exceeded. Please slow down."))
			return
		}
	}

	sess.ensureSubscribed(ctx, msg.DocumentID)

	for i, blockIdx := range msg.BlockIndices {
		result, err := s.dispatcher.RequestSynthesis(ctx, dispatcher.Request{
			UserID:            sess.userID,
			DocumentID:        msg.DocumentID,
			BlockIndex:        blockIdx,
			Text:              msg.Texts[i],
			ModelSlug:         msg.Model,
			VoiceSlug:         msg.Voice,
			Params:            fingerprint.Params(msg.Params),
			Codec:             msg.Codec,
			SynthesisMode:     msg.mode(),
			TrackForWebSocket: true,
		})
		if err != nil {
			s.logger.Error("httpapi: dispatch failed", "user_id", sess.userID, "document_id", msg.DocumentID, "block_idx", blockIdx, "error", err)
			sess.reply(statusMessage(msg.DocumentID, blockIdx, "error", "", errStr(err)))
			continue
		}

		switch result.Status {
		case dispatcher.StatusCached:
			sess.reply(statusMessageWithModel(msg.DocumentID, blockIdx, "cached", result.AudioURL, "", msg.Model, msg.Voice))
		case dispatcher.StatusError:
			sess.reply(statusMessage(msg.DocumentID, blockIdx, "error", "", result.Error))
		case dispatcher.StatusQueued:
			sess.reply(statusMessage(msg.DocumentID, blockIdx, "queued", "", ""))
		}
	}
}

func (sess *session) handleCursorMoved(payload []byte) {
	s := sess.srv
	var msg cursorMovedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		sess.reply(newErrorMessage("malformed cursor_moved message"))
		return
	}

	if err := s.evictor.CursorMoved(context.Background(), sess.userID, msg.DocumentID, msg.Cursor); err != nil {
		s.logger.Error("httpapi: cursor_moved failed", "user_id", sess.userID, "document_id", msg.DocumentID, "error", err)
	}
}

// ensureSubscribed lazily subscribes to the (user, document) pubsub
// channel on first reference, per spec.md §4.8. Forwarded payloads are
// already the exact JSON bytes the core published (fanout.Bus never
// inspects them), so they're written to send verbatim.
func (sess *session) ensureSubscribed(ctx context.Context, documentID string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if _, ok := sess.subs[documentID]; ok {
		return
	}

	unsubscribe, err := sess.srv.bus.Subscribe(ctx, sess.userID, documentID, func(payload []byte) {
		select {
		case sess.send <- payload:
		default:
		}
	})
	if err != nil {
		sess.srv.logger.Error("httpapi: subscribe failed", "user_id", sess.userID, "document_id", documentID, "error", err)
		return
	}
	sess.subs[documentID] = unsubscribe
}

func (sess *session) unsubscribeAll() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, unsubscribe := range sess.subs {
		unsubscribe()
	}
	sess.subs = make(map[string]func())
}

func statusMessage(documentID string, blockIdx int, status, audioURL, errMsg string) fanout.StatusMessage {
	return statusMessageWithModel(documentID, blockIdx, status, audioURL, errMsg, "", "")
}

func statusMessageWithModel(documentID string, blockIdx int, status, audioURL, errMsg, modelSlug, voiceSlug string) fanout.StatusMessage {
	m := fanout.StatusMessage{Type: "status", DocumentID: documentID, BlockIdx: blockIdx, Status: status}
	if audioURL != "" {
		m.AudioURL = &audioURL
	}
	if errMsg != "" {
		m.Error = &errMsg
	}
	if modelSlug != "" {
		m.ModelSlug = &modelSlug
	}
	if voiceSlug != "" {
		m.VoiceSlug = &voiceSlug
	}
	return m
}

func errStr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
