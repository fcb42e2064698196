package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
)

// State describes whether the sync processor is running under the gate.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Runner is the processing loop the gate starts and stops. The gate hands
// it the authenticated session and cancels its context on logout.
type Runner interface {
	Run(ctx context.Context, sess Session) error
}

// Gate ties the processor lifecycle to authentication: login starts a run,
// logout cancels it. In-flight uploads finish on their own detached
// contexts; the gate only interrupts the poll wait and then blocks until
// the run returns.
type Gate struct {
	runner Runner
	logg   *logger.Logger
	now    func() time.Time

	// transitions serializes start/stop sequences, which block on run
	// exit. State queries only need mtx and never wait on a transition.
	transitions sync.Mutex

	mtx     sync.Mutex
	state   State
	current *Session
	stop    context.CancelFunc
	done    chan struct{}
}

type GateParams struct {
	Runner Runner
	Logger *logger.Logger
}

func NewGate(params GateParams) (*Gate, error) {
	if params.Runner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "runner required")
	}
	return &Gate{
		runner: params.Runner,
		logg:   params.Logger,
		now:    time.Now,
		state:  StateStopped,
	}, nil
}

// OnAuthenticated makes sess the active session and (re)starts the runner.
// An already running processor is stopped first so a re-login or token
// refresh always runs with the freshest credentials.
func (g *Gate) OnAuthenticated(ctx context.Context, sess Session) error {
	if strings.TrimSpace(sess.UserID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session user id required")
	}
	if strings.TrimSpace(sess.AccessToken) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session access token required")
	}
	if sess.Expired(g.now()) {
		return pkgerrors.New(pkgerrors.CodeAuthExpired, "access token already expired")
	}

	g.transitions.Lock()
	defer g.transitions.Unlock()

	g.mtx.Lock()
	stop, done := g.stop, g.done
	g.stop, g.done = nil, nil
	g.mtx.Unlock()
	waitForStop(stop, done)

	runCtx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})

	g.mtx.Lock()
	g.current = &sess
	g.state = StateRunning
	g.stop = cancel
	g.done = runDone
	g.mtx.Unlock()

	go g.run(runCtx, sess, runDone)

	if g.logg != nil {
		g.logg.Info(g.logg.WithUserID(ctx, sess.UserID), "session authenticated, sync started")
	}
	return nil
}

// OnLoggedOut clears the active session and stops the runner. The durable
// queue is untouched; pending work resumes on the next login.
func (g *Gate) OnLoggedOut(ctx context.Context) {
	g.transitions.Lock()
	defer g.transitions.Unlock()

	g.mtx.Lock()
	stop, done := g.stop, g.done
	hadSession := g.current != nil
	g.stop, g.done = nil, nil
	g.current = nil
	g.state = StateStopped
	g.mtx.Unlock()
	waitForStop(stop, done)

	if hadSession && g.logg != nil {
		g.logg.Info(ctx, "session closed, sync stopped")
	}
}

// Shutdown stops the runner without discarding the session, so a restart
// can resume where it left off.
func (g *Gate) Shutdown(ctx context.Context) {
	g.transitions.Lock()
	defer g.transitions.Unlock()

	g.mtx.Lock()
	stop, done := g.stop, g.done
	g.stop, g.done = nil, nil
	g.state = StateStopped
	g.mtx.Unlock()
	waitForStop(stop, done)

	if g.logg != nil {
		g.logg.Info(ctx, "sync gate shut down")
	}
}

// Current returns the active session, if any.
func (g *Gate) Current() (Session, bool) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if g.current == nil {
		return Session{}, false
	}
	return *g.current, true
}

// State reports whether a run is active.
func (g *Gate) State() State {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.state
}

func (g *Gate) run(ctx context.Context, sess Session, done chan struct{}) {
	defer close(done)

	err := g.runner.Run(ctx, sess)
	if err != nil && !errors.Is(err, context.Canceled) && g.logg != nil {
		g.logg.Error(ctx, "sync run ended with error", err)
	}

	// A run that returns on its own (expired token, no session work) flips
	// the gate back to stopped; a superseded run leaves the new one alone.
	g.mtx.Lock()
	if g.done == done {
		g.state = StateStopped
	}
	g.mtx.Unlock()
}

func waitForStop(stop context.CancelFunc, done chan struct{}) {
	if stop != nil {
		stop()
	}
	if done != nil {
		<-done
	}
}
