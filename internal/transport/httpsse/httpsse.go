// Package httpsse is the reference HTTP+SSE transport binding (spec.md
// §6.1): a gin.Engine translating request bodies into Input actions and
// streaming Output actions back over text/event-stream, grounded on the
// teacher's internal/server/routes.go route-registration shape.
package httpsse

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/asrhub/asrhub/internal/errs"
	"github.com/asrhub/asrhub/internal/model"
	"github.com/asrhub/asrhub/internal/store"
	"github.com/asrhub/asrhub/pkg/logging"
)

// outputKinds is the closed set of action kinds forwarded to SSE clients
// (spec.md §6.1 event types), plus a handful of Input kinds the spec
// also names there (session_created, listening_started, wake_activated,
// wake_deactivated) and error_raised, sent as error_reported.
var outputKinds = map[store.Kind]string{
	store.KindCreateSession:    "session_created",
	store.KindStartListening:   "listening_started",
	store.KindWakeActivated:    "wake_activated",
	store.KindWakeDeactivated:  "wake_deactivated",
	store.KindTranscribeDone:   "transcribe_done",
	store.KindPlayASRFeedback:  "play_asr_feedback",
	store.KindErrorReported:    "error_reported",
	store.KindErrorRaised:      "error_reported",
}

// createTimeout bounds how long a create_session request waits for the
// store to assign and publish a session ID before returning 504.
const createTimeout = 2 * time.Second

// Server wires the §6.1 REST+SSE surface atop a shared store.
type Server struct {
	store *store.Store
	log   *logging.Logger
}

func New(s *store.Store, log *logging.Logger) *Server {
	return &Server{store: s, log: log}
}

// Register attaches every route under /api/v1 to r.
func (s *Server) Register(r *gin.Engine) {
	g := r.Group("/api/v1")
	g.POST("/create_session", s.handleCreateSession)
	g.POST("/start_listening", s.handleStartListening)
	g.POST("/emit_audio_chunk", s.handleEmitAudioChunk)
	g.POST("/wake_activated", s.handleWakeActivated)
	g.POST("/wake_deactivated", s.handleWakeDeactivated)
	g.GET("/sessions/:session_id/events", s.handleEvents)
}

type createSessionRequest struct {
	Strategy  string `json:"strategy" binding:"required"`
	RequestID string `json:"request_id"`
}

// handleCreateSession dispatches create_session and waits for the
// store to publish the assigned session ID (spec.md §4.4(a): the ID is
// generated at dispatch time, not by the caller).
func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ch := s.store.Subscribe(8, true)
	s.store.Dispatch(store.Action{
		Kind:      store.KindCreateSession,
		RequestID: req.RequestID,
		Payload: store.CreateSessionPayload{
			Strategy:   req.Strategy,
			SampleRate: model.CanonicalSampleRate,
			Channels:   model.CanonicalChannels,
			Format:     string(model.CanonicalFormat),
		},
	})

	deadline := time.After(createTimeout)
	for {
		select {
		case n := <-ch:
			if n.Action.Kind == store.KindCreateSession && n.Action.RequestID == req.RequestID {
				sessionID := n.Action.SessionID
				c.JSON(http.StatusOK, gin.H{
					"session_id": sessionID,
					"request_id": req.RequestID,
					"sse_url":    "/api/v1/sessions/" + sessionID + "/events",
					"audio_url":  "/api/v1/emit_audio_chunk?session_id=" + sessionID,
				})
				return
			}
		case <-deadline:
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": fmt.Sprintf("%s: session creation timed out", errs.ErrTimeout)})
			return
		}
	}
}

type startListeningRequest struct {
	SessionID  string `json:"session_id" binding:"required"`
	SampleRate int32  `json:"sample_rate"`
	Channels   int16  `json:"channels"`
	Format     string `json:"format"`
}

func (s *Server) handleStartListening(c *gin.Context) {
	var req startListeningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.store.Dispatch(store.Action{
		Kind:      store.KindStartListening,
		SessionID: req.SessionID,
		Payload: store.StartListeningPayload{
			SampleRate: req.SampleRate, Channels: req.Channels, Format: req.Format,
		},
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

// handleEmitAudioChunk accepts a raw octet-stream body as one audio chunk
// (spec.md §6.1 emit_audio_chunk).
func (s *Server) handleEmitAudioChunk(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: session_id required", errs.ErrTransport)})
		return
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sampleRate, channels := parseAudioParams(c)
	s.store.Dispatch(store.Action{
		Kind:      store.KindReceiveAudioChunk,
		SessionID: sessionID,
		Payload: store.ReceiveAudioChunkPayload{
			Data:       data,
			SampleRate: sampleRate,
			Channels:   channels,
			Format:     c.DefaultQuery("format", string(model.CanonicalFormat)),
			ChunkID:    c.Query("chunk_id"),
		},
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

func parseAudioParams(c *gin.Context) (int32, int16) {
	sampleRate := int32(model.CanonicalSampleRate)
	if v := c.Query("sample_rate"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			sampleRate = int32(n)
		}
	}
	channels := int16(model.CanonicalChannels)
	if v := c.Query("channels"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			channels = int16(n)
		}
	}
	return sampleRate, channels
}

type wakeRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Source    string `json:"source"`
}

func (s *Server) handleWakeActivated(c *gin.Context) {
	s.dispatchWake(c, store.KindWakeActivated)
}

func (s *Server) handleWakeDeactivated(c *gin.Context) {
	s.dispatchWake(c, store.KindWakeDeactivated)
}

func (s *Server) dispatchWake(c *gin.Context, kind store.Kind) {
	var req wakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Source == "" {
		req.Source = "ui"
	}
	var payload any
	if kind == store.KindWakeActivated {
		payload = store.WakeActivatedPayload{Source: req.Source}
	} else {
		payload = store.WakeDeactivatedPayload{Source: req.Source}
	}
	s.store.Dispatch(store.Action{Kind: kind, SessionID: req.SessionID, Payload: payload})
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

// handleEvents streams the actions listed in outputKinds for one
// session as Server-Sent Events (spec.md §6.1), plus a periodic
// heartbeat so idle connections aren't reaped by intermediaries.
func (s *Server) handleEvents(c *gin.Context) {
	sessionID := c.Param("session_id")
	if _, ok := s.store.State().Session(sessionID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s: unknown session %q", errs.ErrSession, sessionID)})
		return
	}
	ch := s.store.Subscribe(64, true)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	c.SSEvent("connection_ready", gin.H{"session_id": sessionID})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"ts": time.Now().UTC().Format(time.RFC3339)})
			return true
		case n, ok := <-ch:
			if !ok {
				return false
			}
			if n.Action.SessionID != sessionID {
				return true
			}
			event, known := outputKinds[n.Action.Kind]
			if !known {
				return true
			}
			c.SSEvent(event, n.Action.Payload)
			return true
		}
	})
}
