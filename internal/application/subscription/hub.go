// Package subscription serves live views of committed aggregate state.
//
// The Hub listens to the event bus. Events are published only after commit,
// so every update a subscriber sees is committed state. Each subscription
// starts with the current value of its topics, then receives one update per
// committed change. Updates carry the aggregate version; a subscription never
// delivers a version older than one it already delivered for the same topic.
package subscription

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/infrastructure/metrics"
)

// TopicAll matches every aggregate.
const TopicAll = "all"

// Update is one committed value of an aggregate.
type Update struct {
	Topic     string           `json:"topic"`
	Kind      string           `json:"kind"`
	ID        string           `json:"id"`
	Version   int64            `json:"version"`
	Counters  map[string]int64 `json:"counters"`
	EventType shared.EventType `json:"event_type,omitempty"`
	At        time.Time        `json:"at"`
}

func newUpdate(s shared.AggregateState, eventType shared.EventType, at time.Time) Update {
	counters := make(map[string]int64, len(s.Counters))
	for k, v := range s.Counters {
		counters[k] = v
	}
	return Update{
		Topic:     s.Topic(),
		Kind:      string(s.Kind),
		ID:        s.ID,
		Version:   s.Version,
		Counters:  counters,
		EventType: eventType,
		At:        at,
	}
}

// ParseTopic validates a topic of the form "kind:id" or "all".
func ParseTopic(topic string) (shared.AggregateKind, string, error) {
	topic = strings.TrimSpace(topic)
	if topic == TopicAll {
		return "", "", nil
	}
	kind, id, ok := strings.Cut(topic, ":")
	if !ok || id == "" {
		return "", "", shared.NewValidationError("subscription", "ParseTopic", "topic must be kind:id or all")
	}
	switch k := shared.AggregateKind(kind); k {
	case shared.AggregateAccount, shared.AggregateHouse, shared.AggregateItem:
		return k, id, nil
	}
	return "", "", shared.NewValidationError("subscription", "ParseTopic", "unknown topic kind "+kind)
}

// ══════════════════════════════════════════════════════════════════════════════
// HUB
// ══════════════════════════════════════════════════════════════════════════════

// Config configures a Hub.
type Config struct {
	// Buffer is the per-subscription channel length. Once a slow consumer
	// fills it, further updates wait in a per-topic backlog where a newer
	// value replaces an older one of the same topic. Default: 64.
	Buffer int

	Logger *slog.Logger
}

// Hub routes committed aggregate states to subscriptions.
type Hub struct {
	reader ledger.Reader
	buffer int
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewHub creates a Hub reading initial values from reader.
func NewHub(reader ledger.Reader, cfg Config) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		reader: reader,
		buffer: cfg.Buffer,
		logger: cfg.Logger.With("component", "subscription_hub"),
		subs:   make(map[uint64]*Subscription),
	}
}

// Attach registers the hub on bus.
func (h *Hub) Attach(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(h.Handle)
}

// Handle is the event handler. Events that carry no aggregate state are
// ignored.
func (h *Hub) Handle(event shared.Event) error {
	carrier, ok := event.(shared.AggregateCarrier)
	if !ok {
		return nil
	}
	states := carrier.Aggregates()
	if len(states) == 0 {
		return nil
	}

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, state := range states {
		u := newUpdate(state, event.EventType(), event.OccurredAt())
		for _, s := range subs {
			if s.wants(u.Topic) {
				s.offer(u)
			}
		}
	}
	return nil
}

// Subscribe opens a subscription to topics. The subscription is registered
// before the current values are read, so no committed change between the
// two is missed. It is closed when ctx is done or Close is called.
func (h *Hub) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	if len(topics) == 0 {
		topics = []string{TopicAll}
	}

	type target struct {
		kind shared.AggregateKind
		id   string
	}
	targets := make([]target, 0, len(topics))
	wanted := make(map[string]bool, len(topics))
	all := false
	for _, topic := range topics {
		kind, id, err := ParseTopic(topic)
		if err != nil {
			return nil, err
		}
		if kind == "" {
			all = true
			continue
		}
		targets = append(targets, target{kind, id})
		wanted[string(kind)+":"+id] = true
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, shared.ErrStoreUnavailable
	}
	h.nextID++
	sub := &Subscription{
		id:       h.nextID,
		hub:      h,
		all:      all,
		topics:   wanted,
		ch:       make(chan Update, h.buffer),
		versions: make(map[string]int64),
		backlog:  make(map[string]Update),
		wake:     make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()
	go sub.pump()

	for _, t := range targets {
		state, err := h.current(ctx, t.kind, t.id)
		if err != nil {
			sub.Close()
			return nil, err
		}
		sub.offer(newUpdate(state, "", time.Now().UTC()))
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closedCh:
		}
	}()
	return sub, nil
}

func (h *Hub) current(ctx context.Context, kind shared.AggregateKind, id string) (shared.AggregateState, error) {
	switch kind {
	case shared.AggregateAccount:
		a, err := h.reader.GetAccount(ctx, id)
		return a.State(), err
	case shared.AggregateHouse:
		hs, err := h.reader.GetHouse(ctx, id)
		return hs.State(), err
	default:
		it, err := h.reader.GetItem(ctx, id)
		return it.State(), err
	}
}

// Count returns the number of open subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	if _, ok := h.subs[id]; ok {
		delete(h.subs, id)
		metrics.ActiveSubscriptions.Dec()
	}
	h.mu.Unlock()
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION
// ══════════════════════════════════════════════════════════════════════════════

// Subscription is a stream of updates for a set of topics. Every topic's
// latest committed value is eventually delivered, however slowly the
// consumer reads; intermediate values of a topic may be skipped.
type Subscription struct {
	id     uint64
	hub    *Hub
	all    bool
	topics map[string]bool

	mu       sync.Mutex
	ch       chan Update
	versions map[string]int64
	closed   bool

	// backlog holds the newest undelivered value per topic once ch is
	// full; order lists backlog topics oldest first.
	backlog  map[string]Update
	order    []string
	inFlight bool
	wake     chan struct{}

	closedCh chan struct{}
	once     sync.Once
}

// Updates returns the update stream. It is closed when the subscription ends.
func (s *Subscription) Updates() <-chan Update {
	return s.ch
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closedCh)
		s.hub.remove(s.id)
	})
}

func (s *Subscription) wants(topic string) bool {
	return s.all || s.topics[topic]
}

// offer queues u unless an equal or newer version of the topic was already
// queued. While the backlog is empty u goes straight to the channel;
// otherwise it joins the backlog behind earlier topics, replacing any
// undelivered value of its own topic.
func (s *Subscription) offer(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.versions[u.Topic] >= u.Version {
		return
	}
	s.versions[u.Topic] = u.Version

	if len(s.order) == 0 && !s.inFlight {
		select {
		case s.ch <- u:
			return
		default:
		}
	}

	if _, queued := s.backlog[u.Topic]; queued {
		metrics.DroppedUpdates.Inc()
	} else {
		s.order = append(s.order, u.Topic)
	}
	s.backlog[u.Topic] = u

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves backlog entries into the channel as the consumer drains it,
// and closes the channel once the subscription ends.
func (s *Subscription) pump() {
	defer func() {
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-s.closedCh:
			return
		case <-s.wake:
		}

		for {
			u, ok := s.pop()
			if !ok {
				break
			}
			select {
			case s.ch <- u:
			case <-s.closedCh:
				return
			}
			s.mu.Lock()
			s.inFlight = false
			s.mu.Unlock()
		}
	}
}

func (s *Subscription) pop() (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return Update{}, false
	}
	topic := s.order[0]
	s.order = s.order[1:]
	u := s.backlog[topic]
	delete(s.backlog, topic)
	s.inFlight = true
	return u, true
}
