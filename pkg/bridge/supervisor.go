package bridge

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/automatedhome/keybow/pkg/config"
	"github.com/automatedhome/keybow/pkg/homeassistant"
	"github.com/automatedhome/keybow/pkg/protocol"
	"github.com/automatedhome/keybow/pkg/seriallink"
	"github.com/automatedhome/keybow/pkg/types"
)

// ConnectionState is the supervisor's view of the serial link.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	// StateDegraded means the link is open but heartbeats have gone
	// missing; a few more misses force a reconnect.
	StateDegraded
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

// ErrRetriesExhausted is returned by Run when the configured reconnect
// attempt ceiling is reached. The process exits non-zero on it.
var ErrRetriesExhausted = errors.New("bridge: reconnect attempts exhausted")

var (
	errStopRequested = errors.New("stop requested")
	errDeviceReset   = errors.New("device reset")
	errHeartbeatLost = errors.New("heartbeat lost")
)

// missedHeartbeatLimit is how many consecutive read timeouts count as a
// silent device failure.
const missedHeartbeatLimit = 3

// SerialPort is the slice of seriallink.Link the supervisor drives.
type SerialPort interface {
	ReadLine(timeout time.Duration) (string, error)
	WriteLine(line string) error
	Close() error
}

// StateUpdate is an unsolicited LED update originating outside the read
// loop, e.g. from the Home Assistant event stream.
type StateUpdate struct {
	KeyIndex int
	State    types.OnOff
}

// Supervisor owns the serial link lifecycle: it connects, drives the read
// loop, watches heartbeats and applies the retry policy on any failure.
// One Supervisor runs one logical loop; all serial writes happen from it.
type Supervisor struct {
	configPath string
	metrics    *Metrics

	// OnStateChange, if set, is called on every link state transition.
	// It runs on the supervisor loop and must not block.
	OnStateChange func(ConnectionState)
	// OnOutcome, if set, is called after every handled key press.
	OnOutcome func(types.ToggleOutcome)

	// swapped out by tests
	open   func(port string, baud int) (SerialPort, error)
	newHA  func(cfg *config.Snapshot) HAService
	sleep  func(d time.Duration)
	now    func() time.Time
	settle time.Duration

	pushCh   chan StateUpdate
	resyncCh chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	cfg      *config.Snapshot
	coord    *Coordinator
	state    ConnectionState
	lastPass time.Time

	lastHeartbeat time.Time
}

// NewSupervisor builds a supervisor around an already loaded configuration
// snapshot. The snapshot is re-read from configPath on every reconnect so
// config edits take effect without a process restart.
func NewSupervisor(configPath string, cfg *config.Snapshot, metrics *Metrics) *Supervisor {
	s := &Supervisor{
		configPath: configPath,
		metrics:    metrics,
		open: func(port string, baud int) (SerialPort, error) {
			return seriallink.Open(port, baud)
		},
		newHA: func(cfg *config.Snapshot) HAService {
			return homeassistant.NewClient(cfg.HomeAssistantURL, cfg.HomeAssistantToken)
		},
		sleep:    time.Sleep,
		now:      time.Now,
		settle:   2 * time.Second,
		pushCh:   make(chan StateUpdate, 16),
		resyncCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		cfg:      cfg,
	}
	s.coord = NewCoordinator(s.newHA(cfg), cfg.Bindings)
	metrics.configuredKeys.Set(float64(len(cfg.Bindings)))
	return s
}

// Run drives connect/read/retry until Stop is called or the retry ceiling
// is hit. The attempt counter resets only on a successful open, never on
// traffic received while a failure streak is being counted.
func (s *Supervisor) Run() error {
	attempts := 0
	for {
		if s.stopRequested() {
			return nil
		}

		s.setState(StateConnecting)
		cfg := s.snapshot()
		log.Printf("Connecting to keypad on %s", cfg.SerialPort)
		link, err := s.open(cfg.SerialPort, cfg.BaudRate)
		if err != nil {
			s.setState(StateDisconnected)
			if s.stopRequested() {
				return nil
			}
			attempts++
			log.Printf("Connection failed (attempt %d): %v", attempts, err)
			if max := cfg.Retry.MaxAttempts; max > 0 && attempts >= max {
				return fmt.Errorf("%w: %d attempts", ErrRetriesExhausted, attempts)
			}
			log.Printf("Retrying in %s", cfg.Retry.Delay)
			s.sleep(cfg.Retry.Delay)
			continue
		}
		attempts = 0

		s.reloadConfig()
		// Allow the device a moment to finish initializing after the
		// port opens before expecting traffic.
		s.sleep(s.settle)

		s.markHeartbeat()
		s.setState(StateConnected)
		log.Printf("Connected to keypad")

		err = s.session(link)
		if cerr := link.Close(); cerr != nil {
			log.Printf("Closing serial port: %v", cerr)
		}
		s.setState(StateDisconnected)

		switch {
		case errors.Is(err, errStopRequested):
			return nil
		case errors.Is(err, errDeviceReset):
			s.metrics.reconnectsTotal.Inc()
			log.Printf("Keypad reset detected, reconnecting now")
			continue
		default:
			s.metrics.reconnectsTotal.Inc()
			log.Printf("Connection lost: %v", err)
			log.Printf("Reconnecting in %s", s.snapshot().Retry.Delay)
			s.sleep(s.snapshot().Retry.Delay)
		}
	}
}

// session processes lines until the link fails, heartbeats stop, the
// device resets or Stop is called. It returns the reason the session
// ended; the caller decides what the reason costs.
func (s *Supervisor) session(link SerialPort) error {
	cfg := s.snapshot()
	// Roughly twice the device heartbeat cadence: one late heartbeat is
	// not yet suspicious.
	readTimeout := 2 * cfg.HeartbeatInterval
	missed := 0
	readySeen := false

	for {
		if s.stopRequested() {
			return errStopRequested
		}
		if err := s.drainPending(link); err != nil {
			return err
		}

		line, err := link.ReadLine(readTimeout)
		s.markPass()
		if err != nil {
			if errors.Is(err, seriallink.ErrTimeout) {
				missed++
				age := s.now().Sub(s.heartbeatTime())
				s.metrics.heartbeatAge.Set(age.Seconds())
				s.setState(StateDegraded)
				log.Printf("No heartbeat for %s (%d consecutive misses)", age.Round(time.Second), missed)
				if missed >= missedHeartbeatLimit {
					return fmt.Errorf("%w: %d consecutive read timeouts", errHeartbeatLost, missed)
				}
				continue
			}
			return err
		}

		switch ev := protocol.Decode(line); ev.Kind {
		case protocol.Ready:
			if readySeen {
				// A second READY means the device rebooted
				// underneath us; its LED state is gone.
				return errDeviceReset
			}
			readySeen = true
			missed = 0
			s.markHeartbeat()
			s.setState(StateConnected)
			log.Printf("Keypad ready, syncing states")
			if err := s.resync(link); err != nil {
				return err
			}

		case protocol.Heartbeat:
			missed = 0
			s.markHeartbeat()
			s.setState(StateConnected)
			if !cfg.QuietMode {
				log.Printf("Heartbeat")
			}

		case protocol.Toggle:
			outcome := s.coordinator().Handle(ev.Key)
			s.metrics.togglesTotal.Inc()
			if !outcome.Success {
				s.metrics.toggleFailuresTotal.Inc()
			}
			if s.OnOutcome != nil {
				s.OnOutcome(outcome)
			}
			if reply, ok := protocol.EncodeState(outcome); ok {
				if err := link.WriteLine(reply); err != nil {
					return err
				}
			}

		case protocol.Debug:
			log.Printf("[keypad] %s", ev.Message)

		case protocol.Malformed:
			s.metrics.malformedLinesTotal.Inc()
			log.Printf("Ignoring malformed line %q", ev.Raw)
		}
	}
}

// resync pushes the live state of every stateful binding to the device so
// the LEDs reflect reality after a (re)connect.
func (s *Supervisor) resync(link SerialPort) error {
	return s.coordinator().Resync(s.snapshot().Keys(), func(o types.ToggleOutcome) error {
		line, ok := protocol.EncodeState(o)
		if !ok {
			return nil
		}
		return link.WriteLine(line)
	})
}

// drainPending applies queued unsolicited updates before the next read:
// LED pushes from the event stream and externally requested resyncs.
func (s *Supervisor) drainPending(link SerialPort) error {
	for {
		select {
		case u := <-s.pushCh:
			state := u.State
			line, ok := protocol.EncodeState(types.ToggleOutcome{KeyIndex: u.KeyIndex, Success: true, State: &state})
			if ok {
				if err := link.WriteLine(line); err != nil {
					return err
				}
			}
		case <-s.resyncCh:
			log.Printf("Resync requested, syncing states")
			if err := s.resync(link); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Push queues an unsolicited LED update. It never blocks; when the queue
// is full the update is dropped, the next resync will repair the LED.
func (s *Supervisor) Push(u StateUpdate) {
	select {
	case s.pushCh <- u:
	default:
		log.Printf("Dropping state push for key %d: queue full", u.KeyIndex)
	}
}

// RequestResync asks the loop to refresh every LED from Home Assistant at
// the next opportunity. Collapses when a request is already pending.
func (s *Supervisor) RequestResync() {
	select {
	case s.resyncCh <- struct{}{}:
	default:
	}
}

// Stop makes Run return after the current loop iteration and is safe to
// call more than once. There is no mid-sleep cancellation: a stop during
// the retry delay takes effect when the sleep ends.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Supervisor) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Supervisor) reloadConfig() {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		log.Printf("Keeping previous configuration: %v", err)
		cfg = s.snapshot()
	}
	s.mu.Lock()
	s.cfg = cfg
	s.coord = NewCoordinator(s.newHA(cfg), cfg.Bindings)
	s.mu.Unlock()
	s.metrics.configuredKeys.Set(float64(len(cfg.Bindings)))
}

func (s *Supervisor) snapshot() *config.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Supervisor) coordinator() *Coordinator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coord
}

// KeyFor returns the key index bound to entityID in the active snapshot.
func (s *Supervisor) KeyFor(entityID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.cfg.Bindings {
		if b.EntityID == entityID {
			return b.KeyIndex, true
		}
	}
	return 0, false
}

// State reports the current link state.
func (s *Supervisor) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastPass is when the loop last completed a read, used by the health
// endpoint.
func (s *Supervisor) LastPass() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPass
}

func (s *Supervisor) setState(state ConnectionState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	s.metrics.linkState.Set(float64(state))
	if changed && s.OnStateChange != nil {
		s.OnStateChange(state)
	}
}

func (s *Supervisor) markPass() {
	s.mu.Lock()
	s.lastPass = s.now()
	s.mu.Unlock()
}

func (s *Supervisor) markHeartbeat() {
	s.mu.Lock()
	s.lastHeartbeat = s.now()
	s.mu.Unlock()
	s.metrics.heartbeatAge.Set(0)
}

func (s *Supervisor) heartbeatTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeat
}
