package broker

import (
	"sync"

	"github.com/flowbaker/discord-bridge/pkg/domain"
)

// ReplySender is the reply address of one connected node process. Identity
// is pointer equality: a subscriber may only be unregistered from the
// address that registered it.
type ReplySender interface {
	SendEnvelope(env domain.Envelope) error
}

type subscription struct {
	sub  domain.Subscriber
	addr ReplySender
}

// SubscriptionTable is the in-memory registry of trigger subscribers.
// Registration order is preserved so subscriber evaluation for one inbound
// message is deterministic.
type SubscriptionTable struct {
	mu    sync.Mutex
	order []string
	subs  map[string]*subscription
}

func NewSubscriptionTable() *SubscriptionTable {
	return &SubscriptionTable{
		subs: make(map[string]*subscription),
	}
}

// Register stores a subscriber under its ID. Re-registering an existing ID
// replaces its filter and reply address but keeps its original position.
func (t *SubscriptionTable) Register(sub domain.Subscriber, addr ReplySender) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.subs[sub.ID]; !exists {
		t.order = append(t.order, sub.ID)
	}
	t.subs[sub.ID] = &subscription{sub: sub, addr: addr}
}

// Unregister removes a subscriber, but only when the request comes from the
// same reply address that registered it. Returns whether the entry was
// removed.
func (t *SubscriptionTable) Unregister(id string, addr ReplySender) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.subs[id]
	if !exists || entry.addr != addr {
		return false
	}
	t.removeLocked(id)
	return true
}

// Contains reports whether a subscriber ID is registered.
func (t *SubscriptionTable) Contains(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.subs[id]
	return exists
}

// RemoveAddress drops every subscriber registered from the given reply
// address, for disconnect cleanup. Returns the removed IDs.
func (t *SubscriptionTable) RemoveAddress(addr ReplySender) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for _, id := range t.order {
		if t.subs[id].addr == addr {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		t.removeLocked(id)
	}
	return removed
}

func (t *SubscriptionTable) removeLocked(id string) {
	delete(t.subs, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// MessageSubscribers returns the message-trigger subscribers of one
// credential identity, in registration order.
func (t *SubscriptionTable) MessageSubscribers(identity string) []domain.Subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.Subscriber
	for _, id := range t.order {
		entry := t.subs[id]
		if entry.sub.Identity() == identity && entry.sub.Filter.Kind == domain.TriggerKindMessage {
			out = append(out, entry.sub)
		}
	}
	return out
}

// Lookup resolves a subscriber and its reply address by ID.
func (t *SubscriptionTable) Lookup(id string) (domain.Subscriber, ReplySender, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.subs[id]
	if !exists {
		return domain.Subscriber{}, nil, false
	}
	return entry.sub, entry.addr, true
}

// Matching returns the subscribers a lifecycle event fans out to: same
// credential identity, trigger kind matching the event (an unset kind means
// all events), and a guild filter that is empty or contains the guild.
// Empty guildIds receiving every guild's events is a product decision, not
// an accident.
func (t *SubscriptionTable) Matching(event domain.EventKind, identity, guildID string) []subscriptionMatch {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []subscriptionMatch
	for _, id := range t.order {
		entry := t.subs[id]
		if entry.sub.Identity() != identity {
			continue
		}

		filter := entry.sub.Filter
		switch filter.Kind {
		case "":
			// Unset kind listens to everything.
		case domain.TriggerKindLifecycle:
			if filter.Event != event {
				continue
			}
		default:
			continue
		}

		if guildID != "" && len(filter.GuildIDs) > 0 && !contains(filter.GuildIDs, guildID) {
			continue
		}

		out = append(out, subscriptionMatch{sub: entry.sub, addr: entry.addr})
	}
	return out
}

type subscriptionMatch struct {
	sub  domain.Subscriber
	addr ReplySender
}

// Count reports the number of registered subscribers.
func (t *SubscriptionTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
