// Package redispubsub is the reference Redis pub/sub transport binding
// (spec.md §6.1): a subscriber on request:<action> patterns and a
// publisher on response:<action> topics, upgraded to the go-redis/v9
// client API grounded on the pack's redis.NewClient construction.
package redispubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/asrhub/asrhub/internal/config"
	"github.com/asrhub/asrhub/internal/store"
	"github.com/asrhub/asrhub/pkg/logging"
)

const (
	requestPattern  = "request:*"
	responsePrefix  = "response:"
)

// envelope is the wire shape of both request and response messages.
type envelope struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Server bridges Redis pub/sub channels to the store.
type Server struct {
	client *redis.Client
	store  *store.Store
	log    *logging.Logger
}

// New builds a client from cfg.Redis (spec.md §6.4 configuration).
func New(cfg config.RedisConfig, s *store.Store, log *logging.Logger) *Server {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Pass})
	return &Server{client: client, store: s, log: log}
}

// Run subscribes to request:<action> and publishes response:<action>
// for every Output action until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	sub := s.client.PSubscribe(ctx, requestPattern)
	defer sub.Close()

	go s.publishLoop(ctx)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handleRequest(msg)
		}
	}
}

func (s *Server) handleRequest(msg *redis.Message) {
	kind := store.Kind(actionFromChannel(msg.Channel))
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		if s.log != nil {
			s.log.Errorw("redispubsub: malformed request", "channel", msg.Channel, "error", err)
		}
		return
	}
	payload, err := decodePayload(kind, env.Payload)
	if err != nil {
		if s.log != nil {
			s.log.Errorw("redispubsub: bad payload", "kind", kind, "error", err)
		}
		return
	}
	s.store.Dispatch(store.Action{
		Kind:      kind,
		SessionID: env.SessionID,
		RequestID: env.RequestID,
		Payload:   payload,
	})
}

// publishLoop forwards every Output action as a response:<kind> message.
func (s *Server) publishLoop(ctx context.Context) {
	ch := s.store.Subscribe(128, true)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if !isOutputKind(n.Action.Kind) {
				continue
			}
			body, err := json.Marshal(envelope{
				SessionID: n.Action.SessionID,
				RequestID: n.Action.RequestID,
				Payload:   n.Action.Payload,
			})
			if err != nil {
				continue
			}
			s.client.Publish(ctx, responsePrefix+string(n.Action.Kind), body)
		}
	}
}

func isOutputKind(k store.Kind) bool {
	switch k {
	case store.KindTranscribeDone, store.KindPlayASRFeedback, store.KindErrorReported:
		return true
	default:
		return false
	}
}

// actionFromChannel strips the "request:" prefix a publisher sends on,
// e.g. "request:wake_activated" -> "wake_activated".
func actionFromChannel(channel string) string {
	const prefix = "request:"
	if len(channel) > len(prefix) && channel[:len(prefix)] == prefix {
		return channel[len(prefix):]
	}
	return channel
}

// decodePayload re-marshals the generic payload into the concrete
// struct the store reducers expect for kind, since json.Unmarshal into
// `any` only gives map[string]any.
func decodePayload(kind store.Kind, raw any) (any, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case store.KindCreateSession:
		var p store.CreateSessionPayload
		err = json.Unmarshal(buf, &p)
		return p, err
	case store.KindStartListening:
		var p store.StartListeningPayload
		err = json.Unmarshal(buf, &p)
		return p, err
	case store.KindReceiveAudioChunk:
		var p store.ReceiveAudioChunkPayload
		err = json.Unmarshal(buf, &p)
		return p, err
	case store.KindWakeActivated:
		var p store.WakeActivatedPayload
		err = json.Unmarshal(buf, &p)
		return p, err
	case store.KindWakeDeactivated:
		var p store.WakeDeactivatedPayload
		err = json.Unmarshal(buf, &p)
		return p, err
	default:
		return nil, nil
	}
}
