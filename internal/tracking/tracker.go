package tracking

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sarathi/internal/changefeed"
	apperr "sarathi/internal/errors"
	"sarathi/internal/geo"
	"sarathi/internal/logger"
	"sarathi/internal/metrics"
	"sarathi/internal/routing"
	"sarathi/models"
)

const routeTimeout = 5 * time.Second

// Router estimates the remaining trip from a collector to the pickup point.
type Router interface {
	Route(ctx context.Context, from, to geo.Point) (routing.Route, error)
}

// Target identifies what a session follows.
type Target struct {
	OrderID     string
	CollectorID string
	Destination geo.Point
}

// Update is what the client displays.
type Update struct {
	OrderID    string    `json:"order_id"`
	ETAMinutes int       `json:"eta_minutes"`
	DistanceKm float64   `json:"distance_km"`
	Stale      bool      `json:"stale"`
	At         time.Time `json:"at"`
}

type sessionKey struct {
	client string
	order  string
}

// Tracker owns the live tracking sessions. A client has at most one session per order.
type Tracker struct {
	positions PositionFeed
	router    Router
	orders    changefeed.Feed
	logg      *logger.Logger
	metrics   *metrics.Pickup
	now       func() time.Time

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

// Config wires a Tracker. Orders may be nil when no change feed is available;
// sessions then end only through Stop or StopOrder.
type Config struct {
	Positions PositionFeed
	Router    Router
	Orders    changefeed.Feed
	Logger    *logger.Logger
	Metrics   *metrics.Pickup
}

func New(cfg Config) *Tracker {
	logg := cfg.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Tracker{
		positions: cfg.Positions,
		router:    cfg.Router,
		orders:    cfg.Orders,
		logg:      logg,
		metrics:   cfg.Metrics,
		now:       time.Now,
		sessions:  make(map[sessionKey]*Session),
	}
}

// Session is one client's view of one order. Positions are queued by the feed
// and routed on the session's own goroutine, so a slow router never holds up
// the publisher.
type Session struct {
	tracker *Tracker
	key     sessionKey
	target  Target
	display func(Update)

	mu      sync.Mutex
	pending []geo.Point
	stops   []func()
	wake    chan struct{}

	last *Update // owned by run

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
}

// maxPendingPositions bounds the queue; the oldest position is dropped first.
const maxPendingPositions = 16

// Done is closed when the session stops.
func (s *Session) Done() <-chan struct{} { return s.done }

// OrderID returns the tracked order.
func (s *Session) OrderID() string { return s.target.OrderID }

// Start opens a session for clientID on t, stopping any session the client already has on the order.
// Feed subscriptions happen outside the tracker lock. If the order ends while Start is
// subscribing, the returned session is already stopped.
func (t *Tracker) Start(ctx context.Context, clientID string, target Target, display func(Update)) (*Session, error) {
	if target.OrderID == "" || target.CollectorID == "" {
		return nil, apperr.New(apperr.CodeValidation, "order and collector are required for tracking")
	}
	if display == nil {
		return nil, apperr.New(apperr.CodeValidation, "display callback is required")
	}
	if t.positions == nil || t.router == nil {
		return nil, apperr.New(apperr.CodeRetrieval, "tracking is not configured")
	}
	key := sessionKey{client: clientID, order: target.OrderID}
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		tracker: t,
		key:     key,
		target:  target,
		display: display,
		wake:    make(chan struct{}, 1),
		ctx:     sctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	t.metrics.SessionStarted()

	stopPositions, err := t.positions.Watch(ctx, target, s.onPosition)
	if err != nil {
		s.release()
		return nil, apperr.Wrap(apperr.CodeRetrieval, err, "subscribe to collector position")
	}
	s.addStop(stopPositions)

	if t.orders != nil {
		stopOrder, err := t.orders.Subscribe(ctx, changefeed.CollectionOrders, target.OrderID, s.onOrderChange)
		if err != nil {
			s.release()
			return nil, apperr.Wrap(apperr.CodeRetrieval, err, "subscribe to order")
		}
		s.addStop(stopOrder)
	}

	t.mu.Lock()
	prev := t.sessions[key]
	if s.stopped.Load() {
		t.mu.Unlock()
		return s, nil
	}
	t.sessions[key] = s
	t.mu.Unlock()
	if prev != nil {
		prev.release()
	}

	go s.run()
	t.logg.Debug(t.logg.WithOrderID(ctx, target.OrderID), "tracking session started")
	return s, nil
}

// Stop ends s. Stopping a stopped session is a no-op.
func (t *Tracker) Stop(s *Session) {
	if s == nil {
		return
	}
	s.release()
}

// StopOrder ends every session following orderID.
func (t *Tracker) StopOrder(orderID string) {
	t.mu.Lock()
	var victims []*Session
	for k, s := range t.sessions {
		if k.order == orderID {
			victims = append(victims, s)
		}
	}
	t.mu.Unlock()
	for _, s := range victims {
		s.release()
	}
}

// StopAll ends every session; used at shutdown.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	victims := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		victims = append(victims, s)
	}
	t.mu.Unlock()
	for _, s := range victims {
		s.release()
	}
}

// Active returns the number of running sessions.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// addStop registers an unsubscribe func, running it at once if the session already ended.
func (s *Session) addStop(stop func()) {
	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		stop()
		return
	}
	s.stops = append(s.stops, stop)
	s.mu.Unlock()
}

// release must not be called with t.mu held.
func (s *Session) release() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	t := s.tracker
	t.mu.Lock()
	if cur, ok := t.sessions[s.key]; ok && cur == s {
		delete(t.sessions, s.key)
	}
	t.mu.Unlock()

	s.mu.Lock()
	stops := s.stops
	s.stops, s.pending = nil, nil
	s.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	s.cancel()
	close(s.done)
	t.metrics.SessionStopped()
}

func (s *Session) onPosition(p geo.Point) {
	if s.stopped.Load() {
		return
	}
	s.mu.Lock()
	if len(s.pending) == maxPendingPositions {
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, p)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) next() (geo.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return geo.Point{}, false
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	return p, true
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			p, ok := s.next()
			if !ok || s.stopped.Load() {
				break
			}
			s.deliver(p)
		}
	}
}

func (s *Session) deliver(p geo.Point) {
	t := s.tracker
	ctx, cancel := context.WithTimeout(s.ctx, routeTimeout)
	defer cancel()

	started := time.Now()
	r, err := t.router.Route(ctx, p, s.target.Destination)
	t.metrics.ObserveRoute(time.Since(started), err == nil)
	if s.stopped.Load() {
		return
	}

	var u Update
	if err != nil {
		t.logg.WarnErr(t.logg.WithOrderID(context.Background(), s.target.OrderID), "route unavailable; showing last known estimate", err)
		if s.last == nil {
			return
		}
		u = *s.last
		u.Stale = true
		u.At = t.now().UTC()
	} else {
		u = Update{OrderID: s.target.OrderID, ETAMinutes: r.ETAMinutes, DistanceKm: r.DistanceKm, At: t.now().UTC()}
		last := u
		s.last = &last
	}
	s.display(u)
}

func (s *Session) onOrderChange(c changefeed.Change) {
	var o models.Order
	if err := c.Decode(&o); err != nil {
		return
	}
	if o.Status.Terminal() {
		s.tracker.Stop(s)
	}
}
