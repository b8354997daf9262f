// Package coordinator implements the session coordinator effect (spec.md
// §4.4), the largest component: it subscribes to the action stream and
// wires wake-word detection, VAD, recording, pre-roll/tail-padding, and
// ASR dispatch into one pipeline per session.
package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asrhub/asrhub/internal/clock"
	"github.com/asrhub/asrhub/internal/collab"
	"github.com/asrhub/asrhub/internal/config"
	"github.com/asrhub/asrhub/internal/detector"
	"github.com/asrhub/asrhub/internal/fsm"
	"github.com/asrhub/asrhub/internal/model"
	"github.com/asrhub/asrhub/internal/providerpool"
	"github.com/asrhub/asrhub/internal/queue"
	"github.com/asrhub/asrhub/internal/store"
	"github.com/asrhub/asrhub/internal/timer"
	"github.com/asrhub/asrhub/pkg/logging"
)

// Collaborators groups the out-of-scope interfaces the coordinator
// drives (spec.md §6.2); a single instance is shared across sessions,
// matching "the provider pool owns provider instances... shared across
// sessions" and the stateless nature of the wake-word/converter leaves.
type Collaborators struct {
	WakeWord  collab.WakeWordDetector
	VAD       collab.VAD
	Recorder  collab.RecordingService
	Converter collab.AudioConverter
}

// runtime is the per-session state the coordinator exclusively owns
// (spec.md §3 "Lifecycle ownership": "A session exclusively owns its FSM
// instance... its active detector workers and its timer").
type runtime struct {
	fsm      *fsm.SessionFSM
	strategy model.Strategy

	cancelWake context.CancelFunc
	cancelVAD  context.CancelFunc
	workers    *errgroup.Group // tracks live wake-word/VAD worker goroutines for bounded teardown

	preRoll        *preRollRing
	tWake          time.Time
	recordingStart time.Time
}

// Coordinator is the session coordinator effect (spec.md §4.4). It reads
// state only via the store's pure selectors and mutates the world only
// by dispatching further actions or driving collaborators — never by
// mutating store state directly (spec.md §9 "Cyclic references").
type Coordinator struct {
	store *store.Store
	queue *queue.Registry
	timer *timer.Service
	pool  *providerpool.Pool
	collabs Collaborators
	cfg   config.Settings
	clock clock.Clock
	log   *logging.Logger

	mu         sync.Mutex
	sessions   map[string]*runtime
	requestIDs map[string]string // request_id -> session_id (spec.md §4.4(a))
}

// New constructs a Coordinator. Call Run to start consuming the action
// stream; New itself performs no I/O.
func New(s *store.Store, q *queue.Registry, t *timer.Service, p *providerpool.Pool, c Collaborators, cfg config.Settings, clk clock.Clock, log *logging.Logger) *Coordinator {
	if clk == nil {
		clk = clock.Real
	}
	return &Coordinator{
		store:      s,
		queue:      q,
		timer:      t,
		pool:       p,
		collabs:    c,
		cfg:        cfg,
		clock:      clk,
		log:        log,
		sessions:   make(map[string]*runtime),
		requestIDs: make(map[string]string),
	}
}

// Run subscribes to every action (spec.md §4.4 "Subscription set") and
// processes notifications until ctx is canceled. It must see every
// action (dropOnFull=false): the coordinator is the one subscriber that
// may never silently miss a state-mutating event (spec.md §9 "never for
// state-mutating actions").
func (c *Coordinator) Run(ctx context.Context) {
	ch := c.store.Subscribe(256, false)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			c.handle(ctx, n)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, n store.Notification) {
	switch n.Action.Kind {
	case store.KindCreateSession:
		c.handleCreateSession(ctx, n)
	case store.KindStartListening:
		c.handleStartListening(ctx, n)
	case store.KindReceiveAudioChunk:
		c.handleReceiveAudioChunk(ctx, n)
	case store.KindWakeActivated:
		c.handleWakeActivated(ctx, n)
	case store.KindWakeDeactivated:
		c.handleWakeDeactivated(ctx, n)
	case store.KindVADSpeechDetected:
		c.handleVADSpeech(ctx, n)
	case store.KindVADSilenceDetected:
		c.handleVADSilence(ctx, n)
	case store.KindSilenceTimeout:
		c.handleSilenceTimeout(ctx, n)
	case store.KindUploadCompleted:
		c.handleUploadCompleted(ctx, n)
	case store.KindResetSession:
		c.handleResetSession(ctx, n)
	case store.KindErrorOccurred:
		c.handleErrorOccurred(ctx, n)
	case store.KindDeleteSession, store.KindSessionExpired:
		c.handleTeardown(ctx, n)
	}
}

func (c *Coordinator) getRuntime(sessionID string) *runtime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[sessionID]
}

// mirrorFSMState dispatches the fsm_state_changed action so the session
// record's State field is only ever updated through a reducer (spec.md
// §9 "State reads are via pure selectors").
func (c *Coordinator) mirrorFSMState(sessionID, state string) {
	c.store.Dispatch(store.Action{
		Kind:      store.KindFSMStateChanged,
		SessionID: sessionID,
		Payload:   store.FSMStateChangedPayload{State: state},
	})
}

func (c *Coordinator) dispatchError(sessionID, code, detail string) {
	c.store.Dispatch(store.Action{
		Kind:      store.KindErrorRaised,
		SessionID: sessionID,
		Payload:   store.ErrorRaisedPayload{Code: code, Detail: detail},
	})
}

// startWakeWordWorker launches the wake-word detector loop for sessionID
// (spec.md §4.4(c)), cancelling any prior one first.
func (c *Coordinator) startWakeWordWorker(sessionID string, rt *runtime) {
	if rt.cancelWake != nil {
		rt.cancelWake()
	}
	wctx, cancel := context.WithCancel(context.Background())
	rt.cancelWake = cancel
	w := &detector.WakeWordWorker{
		SessionID: sessionID,
		Queue:     c.queue,
		Detector:  c.collabs.WakeWord,
		Dispatch:  c.store.Dispatch,
	}
	rt.workers.Go(func() error {
		w.Run(wctx)
		return nil
	})
}

func (c *Coordinator) stopWakeWordWorker(rt *runtime) {
	if rt.cancelWake != nil {
		rt.cancelWake()
		rt.cancelWake = nil
	}
}

// startVADWorker launches the VAD loop from t_wake (spec.md §4.4(e)).
func (c *Coordinator) startVADWorker(sessionID string, rt *runtime) {
	if rt.cancelVAD != nil {
		rt.cancelVAD()
	}
	vctx, cancel := context.WithCancel(context.Background())
	rt.cancelVAD = cancel
	start := rt.tWake
	w := &detector.VADWorker{
		SessionID:      sessionID,
		Queue:          c.queue,
		Detector:       c.collabs.VAD,
		Dispatch:       c.store.Dispatch,
		StartTimestamp: &start,
	}
	rt.workers.Go(func() error {
		w.Run(vctx)
		return nil
	})
}

func (c *Coordinator) stopVADWorker(rt *runtime) {
	if rt.cancelVAD != nil {
		rt.cancelVAD()
		rt.cancelVAD = nil
	}
}
