package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lanroom/lanroom/internal/engine"
	"github.com/lanroom/lanroom/internal/invite"
	"github.com/lanroom/lanroom/internal/iputil"
	"github.com/lanroom/lanroom/internal/probe"
	"github.com/lanroom/lanroom/internal/util"
)

// ErrBusy is returned by a start request while a session is active.
// There is no queueing; the caller stops the current session first.
var ErrBusy = errors.New("session: a session is already active")

// Deps are the collaborators one orchestrator runs against. Engine and
// OpenTun are mandatory. Discover is needed for hosting only; Announce
// is optional and guest-only. DeviceID seeds the guest's deterministic
// virtual address and should be stable across runs.
type Deps struct {
	Engine   engine.Engine
	OpenTun  TunOpener
	Discover Discoverer
	Announce AnnouncerFunc
	DeviceID string
}

// Options tune the timing of a session. The zero value gives the
// production cadence.
type Options struct {
	BootTimeout time.Duration // deadline for arming, default 10s
	ReachEvery  time.Duration // reachability probe cadence, default 200ms
	AliveEvery  time.Duration // liveness probe cadence, default 1s
	FailStreak  int           // reachability failures that end an armed session, default 3
	MOTD        string        // world name rebroadcast by the guest announcer
	Peers       []string      // bootstrap peer override, empty keeps the built-in list

	// Probe implementations, replaced only by tests.
	reach func(ctx context.Context, port int, timeout time.Duration) bool
	alive func(infos []engine.KV) bool
}

func (o Options) withDefaults() Options {
	if o.BootTimeout == 0 {
		o.BootTimeout = 10 * time.Second
	}
	if o.ReachEvery == 0 {
		o.ReachEvery = 200 * time.Millisecond
	}
	if o.AliveEvery == 0 {
		o.AliveEvery = time.Second
	}
	if o.FailStreak == 0 {
		o.FailStreak = 3
	}
	if o.MOTD == "" {
		o.MOTD = "LAN Room"
	}
	if o.reach == nil {
		o.reach = probe.Reachable
	}
	if o.alive == nil {
		o.alive = probe.Alive
	}
	return o
}

// event is one unit of observer dispatch.
type event struct {
	snap   *Snapshot
	invite string
}

// sessionState is everything owned by exactly one session attempt. A
// fresh value per start keeps teardown of the previous session from
// ever touching the next one.
type sessionState struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	role     Role
	port     int // probe target: shared port (host) or local forward (guest)
	instance string
	invite   string
	backup   string
	dev      TunDevice

	reachable bool
	alive     bool
	streak    int
	armed     bool
	tornDown  bool

	tasks sync.WaitGroup
}

// Orchestrator runs at most one session at a time. All transitions are
// serialized through a single mutex; the probe tasks only ever touch
// state through that lock.
type Orchestrator struct {
	deps Deps
	opts Options

	mu       sync.Mutex
	cur      *sessionState
	phase    Phase
	reason   FailReason
	lastSnap Snapshot
	closed   bool

	observers    []Observer
	events       chan event
	dispatchDone chan struct{}
}

// New validates deps and starts the observer dispatcher. Call Close
// when done with the orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Engine == nil {
		return nil, errors.New("session: engine is required")
	}
	if deps.OpenTun == nil {
		return nil, errors.New("session: tun opener is required")
	}
	o := &Orchestrator{
		deps:         deps,
		opts:         opts.withDefaults(),
		events:       make(chan event, 64),
		dispatchDone: make(chan struct{}),
	}
	go o.dispatch()
	return o, nil
}

// AddObserver registers obs for every subsequent emission.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.mu.Lock()
	o.observers = append(o.observers, obs)
	o.mu.Unlock()
}

// Snapshot returns the most recently emitted snapshot.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSnap
}

// Done returns a channel closed when the current session has fully
// torn down. Without a session it is already closed.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil {
		return closedChan
	}
	return o.cur.done
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// ─────────────────────────────────────────────────────────────────────────────
// Start paths
// ─────────────────────────────────────────────────────────────────────────────

// StartHost begins a hosting session: discover the shared port, issue
// an invite code, launch the engine and probe until armed. It returns
// once the session is probing in the background, or with the error
// that kept it from launching. ctx bounds only the startup sequence.
func (o *Orchestrator) StartHost(ctx context.Context) error {
	if o.deps.Discover == nil {
		return errors.New("session: hosting requires a discoverer")
	}
	s, err := o.begin(RoleHost)
	if err != nil {
		return err
	}

	o.transition(s, PhaseScanning, "")
	port, err := o.deps.Discover.Discover(ctx)
	if err != nil {
		return o.abortStart(s, fmt.Errorf("session: discovery: %w", err), "discovery_failed")
	}
	util.Infof("session: discovered local service on port %d", port)

	code, err := invite.Encode(port)
	if err != nil {
		return o.abortStart(s, fmt.Errorf("session: build invite: %w", err), "invite_build")
	}
	room := invite.Decode(code)
	if !room.Valid() || room.Port != port {
		return o.abortStart(s, fmt.Errorf("session: issued invite does not decode"), "invite_build")
	}

	cfg, err := engine.HostConfig(room)
	if err != nil {
		return o.abortStart(s, fmt.Errorf("session: host config: %w", err), "engine_config")
	}
	cfg.SetPeers(o.opts.Peers)

	dev, err := o.deps.OpenTun(iputil.HostIPv4(room.Kind) + "/24")
	if err != nil {
		return o.abortStart(s, fmt.Errorf("session: open tun: %w", err), "tun_open")
	}
	o.adopt(s, dev)

	if err := errors.Join(ctx.Err(), s.ctx.Err()); err != nil {
		return o.abortStart(s, fmt.Errorf("session: engine start: %w", err), "engine_start")
	}
	if err := o.deps.Engine.Run(cfg); err != nil {
		return o.abortStart(s, fmt.Errorf("session: engine start: %w", err), "engine_start")
	}

	o.mu.Lock()
	if o.cur != s || s.tornDown {
		stale := o.cur == s
		o.mu.Unlock()
		if stale {
			// Teardown swept the engine before Run landed; release the
			// instance it just created.
			_ = o.deps.Engine.Retain(nil)
		}
		return errors.New("session: stopped during startup")
	}
	s.port = port
	s.instance = cfg.InstanceName
	s.invite = code
	o.phase = PhaseProbing
	util.Probes.PhaseChange()
	o.emitLocked("")
	o.emitInviteLocked(code)
	o.launchTasksLocked(s)
	o.mu.Unlock()
	return nil
}

// StartGuest joins the room described by code. A code that does not
// parse fails fast, before any session state changes.
func (o *Orchestrator) StartGuest(ctx context.Context, code string) error {
	room := invite.Decode(code)
	if !room.Valid() {
		return fmt.Errorf("session: %w", invite.ErrInvalidCode)
	}
	s, err := o.begin(RoleGuest)
	if err != nil {
		return err
	}

	o.transition(s, PhaseProbing, "")

	forward := iputil.RandomUDPPort()
	guestIP := iputil.GuestIPv4(o.deps.DeviceID, room.Kind, room.Name, room.Secret)
	util.Infof("session: joining %s as %s, forwarding 127.0.0.1:%d", room.Name, guestIP, forward)

	dev, err := o.deps.OpenTun(guestIP + "/24")
	if err != nil {
		return o.abortStart(s, fmt.Errorf("session: open tun: %w", err), "tun_open")
	}
	o.adopt(s, dev)

	cfg, err := engine.GuestConfig(room, guestIP, forward, iputil.HasIPv4Interface())
	if err != nil {
		return o.abortStart(s, fmt.Errorf("session: guest config: %w", err), "engine_config")
	}
	cfg.SetPeers(o.opts.Peers)
	if err := errors.Join(ctx.Err(), s.ctx.Err()); err != nil {
		return o.abortStart(s, fmt.Errorf("session: engine start: %w", err), "engine_start")
	}
	if err := o.deps.Engine.Run(cfg); err != nil {
		return o.abortStart(s, fmt.Errorf("session: engine start: %w", err), "engine_start")
	}

	o.mu.Lock()
	if o.cur != s || s.tornDown {
		stale := o.cur == s
		o.mu.Unlock()
		if stale {
			_ = o.deps.Engine.Retain(nil)
		}
		return errors.New("session: stopped during startup")
	}
	s.port = forward
	s.instance = cfg.InstanceName
	o.launchTasksLocked(s)
	o.mu.Unlock()
	return nil
}

// begin claims the orchestrator for a new session.
func (o *Orchestrator) begin(role Role) (*sessionState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errors.New("session: orchestrator closed")
	}
	if !o.startableLocked() {
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &sessionState{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		role:   role,
	}
	o.cur = s
	o.phase = PhaseIdle
	o.reason = ReasonNone
	return s, nil
}

// startableLocked: idle, or a previous session that has fully torn
// down (a parked failure also frees the slot).
func (o *Orchestrator) startableLocked() bool {
	if o.cur == nil {
		return true
	}
	select {
	case <-o.cur.done:
		return o.phase == PhaseIdle || o.phase == PhaseFailed
	default:
		return false
	}
}

// transition emits a phase change during the startup sequence.
func (o *Orchestrator) transition(s *sessionState, phase Phase, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur != s || s.tornDown {
		return
	}
	o.phase = phase
	util.Probes.PhaseChange()
	o.emitLocked(msg)
}

// adopt hands the opened device to the session so every teardown path
// closes it. If teardown already ran the device is closed here instead.
func (o *Orchestrator) adopt(s *sessionState, dev TunDevice) {
	o.mu.Lock()
	if s.tornDown {
		o.mu.Unlock()
		dev.Close()
		return
	}
	s.dev = dev
	o.mu.Unlock()
}

// abortStart classifies a startup failure and waits for the teardown
// to finish so the caller gets a quiesced orchestrator with its error.
// A cancelled startup counts as a clean stop, not a failure.
func (o *Orchestrator) abortStart(s *sessionState, err error, msg string) error {
	o.mu.Lock()
	if o.cur == s && !s.tornDown {
		if errors.Is(err, context.Canceled) {
			o.stopLocked()
		} else {
			o.failLocked(ReasonStartFailed, msg)
		}
	}
	o.mu.Unlock()
	<-s.done
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// Probe tasks
// ─────────────────────────────────────────────────────────────────────────────

func (o *Orchestrator) launchTasksLocked(s *sessionState) {
	s.tasks.Add(3)
	go o.runDeadline(s)
	go o.runReach(s)
	go o.runAlive(s)
}

// runDeadline fails the session if it has not armed in time.
func (o *Orchestrator) runDeadline(s *sessionState) {
	defer s.tasks.Done()
	timer := time.NewTimer(o.opts.BootTimeout)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
	case <-timer.C:
		o.mu.Lock()
		if o.cur == s && !s.armed {
			o.failLocked(ReasonTimeout, "boot_deadline")
		}
		o.mu.Unlock()
	}
}

// runReach probes the game port on a fixed delay: the next wait starts
// only after the previous probe returned.
func (o *Orchestrator) runReach(s *sessionState) {
	defer s.tasks.Done()
	timer := time.NewTimer(o.opts.ReachEvery)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}
		ok := o.opts.reach(s.ctx, s.port, o.opts.ReachEvery)
		util.Probes.Reach(ok)
		o.onReach(s, ok)
		timer.Reset(o.opts.ReachEvery)
	}
}

func (o *Orchestrator) runAlive(s *sessionState) {
	defer s.tasks.Done()
	timer := time.NewTimer(o.opts.AliveEvery)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}
		infos, err := o.deps.Engine.Infos()
		ok := err == nil && o.opts.alive(infos)
		util.Probes.Alive(ok)
		o.onAlive(s, ok)
		timer.Reset(o.opts.AliveEvery)
	}
}

func (o *Orchestrator) onReach(s *sessionState, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur != s || s.tornDown {
		return
	}
	s.reachable = ok
	if ok {
		s.streak = 0
		o.maybeArmLocked(s)
		return
	}
	if s.armed {
		s.streak++
		util.Warnf("session: reachability failed (%d/%d)", s.streak, o.opts.FailStreak)
		if s.streak >= o.opts.FailStreak {
			o.failLocked(ReasonConnectionLost, "reach_streak")
		}
	}
}

func (o *Orchestrator) onAlive(s *sessionState, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur != s || s.tornDown {
		return
	}
	s.alive = ok
	if ok {
		o.maybeArmLocked(s)
		return
	}
	if s.armed {
		o.failLocked(ReasonEngineCrashed, "liveness")
	}
}

// maybeArmLocked performs the one-time arm transition the first time
// both probes are simultaneously true: hand the tunnel device to the
// engine and enter steady state.
func (o *Orchestrator) maybeArmLocked(s *sessionState) {
	if s.armed || o.phase != PhaseProbing || !s.reachable || !s.alive {
		return
	}
	if err := o.deps.Engine.SetTunFD(s.instance, s.dev.FD()); err != nil {
		util.Errorf("session: tun hand-off: %v", err)
		o.failLocked(ReasonStartFailed, "tun_handoff")
		return
	}
	s.armed = true
	o.phase = PhaseArmed
	util.Probes.PhaseChange()
	if s.role == RoleGuest {
		s.backup = fmt.Sprintf("127.0.0.1:%d", s.port)
		if o.deps.Announce != nil {
			s.tasks.Add(1)
			go func() {
				defer s.tasks.Done()
				if err := o.deps.Announce(s.ctx, o.opts.MOTD, s.port); err != nil {
					util.Warnf("session: announcer: %v", err)
				}
			}()
		}
	}
	util.Infof("session: tunnel armed (%s)", s.instance)
	o.emitLocked("")
}

// ─────────────────────────────────────────────────────────────────────────────
// Teardown
// ─────────────────────────────────────────────────────────────────────────────

// failLocked moves an active session to Failed and begins teardown.
func (o *Orchestrator) failLocked(reason FailReason, msg string) {
	s := o.cur
	if s == nil || s.tornDown {
		return
	}
	o.phase = PhaseFailed
	o.reason = reason
	util.Probes.PhaseChange()
	util.Errorf("session: failed: %s (%s)", reason, msg)
	o.emitLocked(msg)
	o.beginTeardownLocked(s)
}

// stopLocked ends the session cleanly: an Idle snapshot, never Failed.
func (o *Orchestrator) stopLocked() {
	s := o.cur
	if s == nil || s.tornDown {
		return
	}
	o.phase = PhaseIdle
	o.reason = ReasonNone
	util.Probes.PhaseChange()
	o.emitLocked("")
	o.beginTeardownLocked(s)
}

// beginTeardownLocked launches the single teardown for s. It must run
// off the probe goroutines: they hold the lock when they classify a
// failure, and joining them from under it would deadlock. Order
// matters: cancel and join every task, release the engine instances,
// only then close the tunnel device.
func (o *Orchestrator) beginTeardownLocked(s *sessionState) {
	if s.tornDown {
		return
	}
	s.tornDown = true
	go func() {
		s.cancel()
		s.tasks.Wait()
		if err := o.deps.Engine.Retain(nil); err != nil {
			util.Warnf("session: engine release: %v", err)
		}
		if s.dev != nil {
			if err := s.dev.Close(); err != nil {
				util.Warnf("session: close tun: %v", err)
			}
		}
		close(s.done)
	}()
}

// Stop ends the active session and blocks until teardown completes.
// Stopping an idle orchestrator is a no-op; stopping a failed session
// clears it back to Idle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	s := o.cur
	if s == nil {
		o.mu.Unlock()
		return
	}
	o.stopLocked()
	o.mu.Unlock()
	<-s.done

	o.mu.Lock()
	if o.cur == s && o.phase == PhaseFailed {
		o.phase = PhaseIdle
		o.reason = ReasonNone
		o.emitLocked("")
	}
	o.mu.Unlock()
}

// Close stops any active session and shuts the dispatcher down. The
// orchestrator cannot be reused afterwards.
func (o *Orchestrator) Close() {
	o.Stop()
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.dispatchDone
		return
	}
	o.closed = true
	close(o.events)
	o.mu.Unlock()
	<-o.dispatchDone
}

// ─────────────────────────────────────────────────────────────────────────────
// Observer dispatch
// ─────────────────────────────────────────────────────────────────────────────

func (o *Orchestrator) snapshotLocked(msg string) Snapshot {
	snap := Snapshot{
		Role:      RoleNone,
		Phase:     o.phase,
		Reason:    o.reason,
		Message:   msg,
		Timestamp: time.Now(),
	}
	if s := o.cur; s != nil {
		snap.Role = s.role
		snap.InviteCode = s.invite
		snap.BackupEndpoint = s.backup
	}
	return snap
}

// emitLocked queues the current state for dispatch. A full queue drops
// the event rather than stalling a transition.
func (o *Orchestrator) emitLocked(msg string) {
	snap := o.snapshotLocked(msg)
	o.lastSnap = snap
	select {
	case o.events <- event{snap: &snap}:
	default:
		util.Warnf("session: observer queue full, dropping %s snapshot", snap.Phase)
	}
}

func (o *Orchestrator) emitInviteLocked(code string) {
	select {
	case o.events <- event{invite: code}:
	default:
		util.Warnf("session: observer queue full, dropping invite notification")
	}
}

func (o *Orchestrator) dispatch() {
	defer close(o.dispatchDone)
	for ev := range o.events {
		o.mu.Lock()
		obs := slices.Clone(o.observers)
		o.mu.Unlock()
		for _, ob := range obs {
			deliver(ob, ev)
		}
	}
}

// deliver shields the dispatcher from observer panics.
func deliver(ob Observer, ev event) {
	defer func() {
		if r := recover(); r != nil {
			util.Warnf("session: observer panic: %v", r)
		}
	}()
	if ev.invite != "" {
		ob.OnInvite(ev.invite)
		return
	}
	ob.OnSnapshot(*ev.snap)
}
