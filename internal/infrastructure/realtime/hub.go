package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var errUnreachable = errors.New("realtime: hub unreachable")

// Hub is an in-process broadcast substrate. It coordinates client links and
// topics, keeping one active link per client while fanning each publish out
// to every link subscribed to the topic.
type Hub struct {
	mu          sync.RWMutex
	buffer      int
	links       map[string]*hubLink            // linkID -> link
	clientLinks map[string]string              // clientID -> linkID
	topics      map[string]map[string]*hubLink // topic -> linkID -> link
	linkTopics  map[string]map[string]struct{} // linkID -> set of topics
}

// NewHub constructs an initialized Hub. buffer bounds each link's inbox;
// a link whose inbox overflows is closed.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		buffer:      buffer,
		links:       make(map[string]*hubLink),
		clientLinks: make(map[string]string),
		topics:      make(map[string]map[string]*hubLink),
		linkTopics:  make(map[string]map[string]struct{}),
	}
}

// Endpoint returns a Transport that dials this hub as clientID.
func (h *Hub) Endpoint(clientID string) *HubEndpoint {
	return &HubEndpoint{hub: h, clientID: clientID}
}

// attach registers link. A previous link for the same client is removed and
// closed after the swap.
func (h *Hub) attach(link *hubLink) {
	var previous *hubLink

	h.mu.Lock()
	if existingID, ok := h.clientLinks[link.clientID]; ok {
		if existing := h.links[existingID]; existing != nil {
			previous = existing
			h.detachLocked(existingID)
		}
	}
	h.links[link.id] = link
	h.clientLinks[link.clientID] = link.id
	h.linkTopics[link.id] = make(map[string]struct{})
	h.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
}

func (h *Hub) detach(link *hubLink) {
	h.mu.Lock()
	h.detachLocked(link.id)
	h.mu.Unlock()
}

func (h *Hub) join(topic string, link *hubLink) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.links[link.id]; !ok {
		return errUnreachable
	}
	set := h.topics[topic]
	if set == nil {
		set = make(map[string]*hubLink)
		h.topics[topic] = set
	}
	set[link.id] = link

	memberships := h.linkTopics[link.id]
	if memberships == nil {
		memberships = make(map[string]struct{})
		h.linkTopics[link.id] = memberships
	}
	memberships[topic] = struct{}{}
	return nil
}

func (h *Hub) leave(topic string, link *hubLink) {
	h.mu.Lock()
	h.leaveLocked(topic, link.id)
	h.mu.Unlock()
}

// broadcast writes payload to every link on topic and returns the number delivered.
func (h *Hub) broadcast(topic string, payload []byte) int {
	h.mu.RLock()
	delivered := 0
	var overflowed []*hubLink
	for _, link := range h.topics[topic] {
		if link.send(Inbound{Topic: topic, Payload: payload}) {
			delivered++
		} else {
			overflowed = append(overflowed, link)
		}
	}
	h.mu.RUnlock()

	for _, link := range overflowed {
		link.Close()
	}
	return delivered
}

// Subscribers reports how many links are on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close terminates all links and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	links := make([]*hubLink, 0, len(h.links))
	for _, l := range h.links {
		links = append(links, l)
	}
	h.links = make(map[string]*hubLink)
	h.clientLinks = make(map[string]string)
	h.topics = make(map[string]map[string]*hubLink)
	h.linkTopics = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, l := range links {
		l.Close()
	}
}

func (h *Hub) detachLocked(linkID string) {
	link, ok := h.links[linkID]
	if !ok {
		return
	}
	delete(h.links, linkID)
	if current, ok := h.clientLinks[link.clientID]; ok && current == linkID {
		delete(h.clientLinks, link.clientID)
	}
	for topic := range h.linkTopics[linkID] {
		h.leaveLocked(topic, linkID)
	}
	delete(h.linkTopics, linkID)
}

func (h *Hub) leaveLocked(topic, linkID string) {
	set := h.topics[topic]
	if set == nil {
		return
	}
	delete(set, linkID)
	if len(set) == 0 {
		delete(h.topics, topic)
	}
	if memberships, ok := h.linkTopics[linkID]; ok {
		delete(memberships, topic)
	}
}

// HubEndpoint dials a Hub for one client. Drop and Restore simulate a
// network partition for that client.
type HubEndpoint struct {
	hub      *Hub
	clientID string

	mu      sync.Mutex
	down    bool
	current *hubLink
}

var _ Transport = (*HubEndpoint)(nil)

func (e *HubEndpoint) Connect(ctx context.Context) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.down {
		return nil, errUnreachable
	}
	link := &hubLink{
		id:       uuid.NewString(),
		clientID: e.clientID,
		hub:      e.hub,
		inbox:    make(chan Inbound, e.hub.buffer),
		done:     make(chan struct{}),
	}
	e.hub.attach(link)
	e.current = link
	return link, nil
}

// Drop severs the current link and refuses new ones until Restore.
func (e *HubEndpoint) Drop() {
	e.mu.Lock()
	e.down = true
	link := e.current
	e.current = nil
	e.mu.Unlock()
	if link != nil {
		link.Close()
	}
}

func (e *HubEndpoint) Restore() {
	e.mu.Lock()
	e.down = false
	e.mu.Unlock()
}

type hubLink struct {
	id       string
	clientID string
	hub      *Hub
	inbox    chan Inbound
	done     chan struct{}
	once     sync.Once
}

var _ Link = (*hubLink)(nil)

// send enqueues without blocking; false means the inbox overflowed.
func (l *hubLink) send(in Inbound) bool {
	select {
	case <-l.done:
		return true
	case l.inbox <- in:
		return true
	default:
		return false
	}
}

func (l *hubLink) Subscribe(_ context.Context, topic string) error {
	if l.closed() {
		return errUnreachable
	}
	return l.hub.join(topic, l)
}

func (l *hubLink) Unsubscribe(_ context.Context, topic string) error {
	l.hub.leave(topic, l)
	return nil
}

func (l *hubLink) Publish(_ context.Context, topic string, payload []byte) error {
	if l.closed() {
		return errUnreachable
	}
	l.hub.broadcast(topic, payload)
	return nil
}

func (l *hubLink) Messages() <-chan Inbound { return l.inbox }

func (l *hubLink) Done() <-chan struct{} { return l.done }

func (l *hubLink) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.hub.detach(l)
	})
	return nil
}

func (l *hubLink) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
