// internal/notify/hub.go
package notify

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemberLister resolves who can read a channel.
type MemberLister interface {
	Members(channelID string) []uuid.UUID
}

// historyLimit bounds the messages kept for edit/delete and replay.
const historyLimit = 2048

// Message is a delivered notification.
type Message struct {
	Ref        MessageRef  `json:"ref"`
	ChannelID  string      `json:"channel_id,omitempty"`
	Recipients []uuid.UUID `json:"-"`
	Text       string      `json:"text"`
	Deleted    bool        `json:"deleted,omitempty"`
	At         time.Time   `json:"at"`
}

// Outbound is what a connected client receives.
type Outbound struct {
	Type    string  `json:"type"` // "message", "edit" or "delete"
	Message Message `json:"message"`
}

// Conn is one live client of a player. Out is drained by the transport.
type Conn struct {
	PlayerID uuid.UUID
	Out      chan Outbound
}

// write pushes without blocking; a slow client loses the message.
func (c *Conn) write(o Outbound, log logrus.FieldLogger) {
	select {
	case c.Out <- o:
	default:
		log.WithField("player", c.PlayerID).Warnf("notify: outbound queue full, dropped %s %s", o.Type, o.Message.Ref.ID)
	}
}

// Hub is the in-process Notifier. It keeps a bounded message history and
// fans messages out to every attached connection of the recipients.
type Hub struct {
	mu       sync.Mutex
	conns    map[uuid.UUID]map[*Conn]struct{}
	messages map[string]*Message
	order    []string
	seq      uint64
	members  MemberLister
	log      logrus.FieldLogger
}

// NewHub builds a hub. members may be nil when channel posts are not used.
func NewHub(members MemberLister, log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		conns:    make(map[uuid.UUID]map[*Conn]struct{}),
		messages: make(map[string]*Message),
		members:  members,
		log:      log,
	}
}

// Attach registers a new connection for playerID.
func (h *Hub) Attach(playerID uuid.UUID) *Conn {
	c := &Conn{PlayerID: playerID, Out: make(chan Outbound, 64)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[playerID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[playerID] = set
	}
	set[c] = struct{}{}
	return c
}

// Detach removes c. Its Out channel is left for the transport to abandon.
func (h *Hub) Detach(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[c.PlayerID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.PlayerID)
		}
	}
}

// Online reports whether playerID has at least one attached connection.
func (h *Hub) Online(playerID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[playerID]) > 0
}

func (h *Hub) Direct(_ context.Context, playerID uuid.UUID, text string) (MessageRef, error) {
	return h.deliver("", []uuid.UUID{playerID}, text), nil
}

func (h *Hub) Post(_ context.Context, channelID string, text string) (MessageRef, error) {
	if h.members == nil {
		return MessageRef{}, fmt.Errorf("notify: no member lister for channel %s", channelID)
	}
	return h.deliver(channelID, h.members.Members(channelID), text), nil
}

func (h *Hub) Edit(_ context.Context, ref MessageRef, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.messages[ref.ID]
	if !ok || m.Deleted {
		return fmt.Errorf("notify: message %s not found", ref.ID)
	}
	m.Text = text
	h.fanoutLocked(Outbound{Type: "edit", Message: *m})
	return nil
}

func (h *Hub) Delete(_ context.Context, ref MessageRef) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.messages[ref.ID]
	if !ok || m.Deleted {
		return fmt.Errorf("notify: message %s not found", ref.ID)
	}
	m.Deleted = true
	h.fanoutLocked(Outbound{Type: "delete", Message: *m})
	return nil
}

// History returns the live messages playerID received, oldest first.
func (h *Hub) History(playerID uuid.UUID) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Message
	for _, id := range h.order {
		m := h.messages[id]
		if !m.Deleted && slices.Contains(m.Recipients, playerID) {
			out = append(out, *m)
		}
	}
	return out
}

// ChannelHistory returns the live messages posted into channelID.
func (h *Hub) ChannelHistory(channelID string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Message
	for _, id := range h.order {
		m := h.messages[id]
		if !m.Deleted && m.ChannelID == channelID {
			out = append(out, *m)
		}
	}
	return out
}

func (h *Hub) deliver(channelID string, recipients []uuid.UUID, text string) MessageRef {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	m := &Message{
		Ref:        MessageRef{ID: strconv.FormatUint(h.seq, 10)},
		ChannelID:  channelID,
		Recipients: slices.Clone(recipients),
		Text:       text,
		At:         time.Now(),
	}
	h.messages[m.Ref.ID] = m
	h.order = append(h.order, m.Ref.ID)
	if len(h.order) > historyLimit {
		delete(h.messages, h.order[0])
		h.order = h.order[1:]
	}
	h.fanoutLocked(Outbound{Type: "message", Message: *m})
	return m.Ref
}

func (h *Hub) fanoutLocked(o Outbound) {
	for _, pid := range o.Message.Recipients {
		for c := range h.conns[pid] {
			c.write(o, h.log)
		}
	}
}
