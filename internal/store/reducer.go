package store

import (
	"time"

	"github.com/asrhub/asrhub/internal/model"
)

// Reducer is a pure (state, action) -> state function (spec.md §4.3).
// A reducer must not perform I/O or enqueue actions.
type Reducer func(State, Action, time.Time) State

// SessionsReducer updates the sessions slice. Session ID generation
// happens at dispatch time (see Store.Dispatch), not inside the reducer,
// so the reducer itself stays a pure function of its three arguments —
// the action already carries the session ID to create/mutate.
func SessionsReducer(s State, a Action, now time.Time) State {
	switch a.Kind {
	case KindCreateSession:
		p, _ := a.Payload.(CreateSessionPayload)
		next := s.clone()
		next.Sessions[a.SessionID] = model.Session{
			ID:       a.SessionID,
			Strategy: model.Strategy(p.Strategy),
			Audio: model.AudioConfig{
				SampleRate: p.SampleRate,
				Channels:   p.Channels,
				Format:     model.SampleFormat(p.Format),
			},
			State:     "idle",
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: now.Add(30 * time.Minute),
		}
		return next

	case KindStartListening:
		p, _ := a.Payload.(StartListeningPayload)
		return s.updateSession(a.SessionID, now, func(sess model.Session) model.Session {
			if p.SampleRate != 0 {
				sess.Audio.SampleRate = p.SampleRate
				sess.Audio.Channels = p.Channels
				sess.Audio.Format = model.SampleFormat(p.Format)
			}
			return sess
		})

	case KindReceiveAudioChunk:
		return s.updateSession(a.SessionID, now, func(sess model.Session) model.Session {
			sess.Counters.ChunksReceived++
			return sess
		})

	case KindTranscribeDone:
		p, _ := a.Payload.(TranscribeDonePayload)
		return s.updateSession(a.SessionID, now, func(sess model.Session) model.Session {
			sess.Counters.ChunksProcessed++
			if p.Result != nil {
				sess.LastResult = &model.Transcription{
					FullText:   p.Result.FullText,
					Language:   p.Result.Language,
					Confidence: p.Result.Confidence,
				}
			}
			return sess
		})

	case KindErrorRaised, KindErrorOccurred:
		return s.updateSession(a.SessionID, now, func(sess model.Session) model.Session {
			sess.Counters.Errors++
			return sess
		})

	case KindDeleteSession, KindSessionExpired:
		if _, ok := s.Sessions[a.SessionID]; !ok {
			return s
		}
		next := s.clone()
		delete(next.Sessions, a.SessionID)
		return next

	case KindFSMStateChanged:
		p, _ := a.Payload.(FSMStateChangedPayload)
		return SetFSMState(s, a.SessionID, p.State, now)

	default:
		return s
	}
}

// updateSession applies fn to the named session if it exists, stamping
// UpdatedAt, and returns a State with only that session's branch changed.
func (s State) updateSession(id string, now time.Time, fn func(model.Session) model.Session) State {
	sess, ok := s.Sessions[id]
	if !ok {
		return s
	}
	next := s.clone()
	updated := fn(sess)
	updated.UpdatedAt = now
	next.Sessions[id] = updated
	return next
}

// StatsReducer updates the aggregate counters slice (spec.md §4.3).
func StatsReducer(s State, a Action, _ time.Time) State {
	switch a.Kind {
	case KindCreateSession:
		s.Stats.SessionsCreated++
	case KindDeleteSession, KindSessionExpired:
		s.Stats.SessionsDeleted++
	case KindReceiveAudioChunk:
		s.Stats.ChunksReceived++
	case KindErrorRaised, KindErrorOccurred:
		s.Stats.Errors++
	}
	return s
}

// SetFSMState lets the coordinator mirror its FSM's current state string
// onto the session record (spec.md §3: Session attributes include "FSM
// state"). This is exposed as a reducer entry point, not a direct mutation,
// so the only way to change State is still through Dispatch.
func SetFSMState(s State, sessionID, fsmState string, now time.Time) State {
	return s.updateSession(sessionID, now, func(sess model.Session) model.Session {
		return sess.WithState(fsmState, now)
	})
}
