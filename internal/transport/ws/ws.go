// Package ws is the reference WebSocket transport binding (spec.md
// §6.1): one connection per session, binary frames carry audio, JSON
// text frames carry control actions. Grounded on the teacher's
// internal/server/routes.go handleWebSocket upgrade/read-loop shape.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/asrhub/asrhub/internal/model"
	"github.com/asrhub/asrhub/internal/store"
	"github.com/asrhub/asrhub/pkg/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // reference binding, not a hardened deployment
}

// controlMessage is the JSON shape of a text frame (spec.md §6.1 control
// actions: start_listening, wake_activated, wake_deactivated).
type controlMessage struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	Source    string `json:"source,omitempty"`
	SampleRate int32  `json:"sample_rate,omitempty"`
	Channels   int16  `json:"channels,omitempty"`
	Format     string `json:"format,omitempty"`
}

// Server bridges one WebSocket connection per session to the store.
type Server struct {
	store *store.Store
	log   *logging.Logger
}

func New(s *store.Store, log *logging.Logger) *Server {
	return &Server{store: s, log: log}
}

// Register attaches the upgrade endpoint to r.
func (s *Server) Register(r *gin.Engine) {
	r.GET("/ws/:session_id", s.handle)
}

func (s *Server) handle(c *gin.Context) {
	sessionID := c.Param("session_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if s.log != nil {
			s.log.Errorf("ws upgrade failed for session %s: %v", sessionID, err)
		}
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go s.writeLoop(ctx, conn, sessionID)
	s.readLoop(conn, sessionID)
}

// readLoop dispatches every inbound frame as an action: binary frames
// are receive_audio_chunk payloads, text frames are control messages.
func (s *Server) readLoop(conn *websocket.Conn, sessionID string) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			s.store.Dispatch(store.Action{
				Kind:      store.KindReceiveAudioChunk,
				SessionID: sessionID,
				Payload: store.ReceiveAudioChunkPayload{
					Data:       data,
					SampleRate: model.CanonicalSampleRate,
					Channels:   model.CanonicalChannels,
					Format:     string(model.CanonicalFormat),
				},
			})
		case websocket.TextMessage:
			s.dispatchControl(sessionID, data)
		}
	}
}

func (s *Server) dispatchControl(sessionID string, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.SessionID != "" {
		sessionID = msg.SessionID
	}
	switch msg.Kind {
	case "start_listening":
		s.store.Dispatch(store.Action{
			Kind:      store.KindStartListening,
			SessionID: sessionID,
			Payload:   store.StartListeningPayload{SampleRate: msg.SampleRate, Channels: msg.Channels, Format: msg.Format},
		})
	case "wake_activated":
		s.store.Dispatch(store.Action{
			Kind:      store.KindWakeActivated,
			SessionID: sessionID,
			Payload:   store.WakeActivatedPayload{Source: msg.Source},
		})
	case "wake_deactivated":
		s.store.Dispatch(store.Action{
			Kind:      store.KindWakeDeactivated,
			SessionID: sessionID,
			Payload:   store.WakeDeactivatedPayload{Source: msg.Source},
		})
	case "delete_session":
		s.store.Dispatch(store.Action{Kind: store.KindDeleteSession, SessionID: sessionID})
	}
}

// writeLoop forwards the actions isOutputKind selects for sessionID (the
// Output kinds plus start_listening, wake_activated, wake_deactivated and
// error_raised) as JSON text frames until ctx is canceled or the
// connection breaks.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sessionID string) {
	ch := s.store.Subscribe(64, true)
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case n, ok := <-ch:
			if !ok {
				return
			}
			if n.Action.SessionID != sessionID {
				continue
			}
			if !isOutputKind(n.Action.Kind) {
				continue
			}
			out := controlMessage{Kind: string(n.Action.Kind), SessionID: sessionID}
			frame, err := json.Marshal(struct {
				controlMessage
				Payload any `json:"payload,omitempty"`
			}{out, n.Action.Payload})
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

func isOutputKind(k store.Kind) bool {
	switch k {
	case store.KindTranscribeDone, store.KindPlayASRFeedback, store.KindErrorReported,
		store.KindWakeActivated, store.KindWakeDeactivated, store.KindStartListening, store.KindErrorRaised:
		return true
	default:
		return false
	}
}
