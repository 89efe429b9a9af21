// Package subscription tracks which (channel, topic) pairs are active.
package subscription

import (
	"sort"
	"sync"

	"polofeed/models"
)

// Subscription is one registry entry.
type Subscription struct {
	Channel models.ChannelKind
	Topic   string
	Active  bool
}

// Registry is a set of active topics per channel. It never performs I/O;
// the connection manager consults it and is its only writer.
type Registry struct {
	mu     sync.RWMutex
	topics map[models.ChannelKind]map[string]uint64
	seq    uint64
}

func NewRegistry() *Registry {
	return &Registry{topics: make(map[models.ChannelKind]map[string]uint64)}
}

// Add marks topic active on channel. It reports false when the topic was
// already active.
func (r *Registry) Add(channel models.ChannelKind, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.topics[channel]
	if !ok {
		set = make(map[string]uint64)
		r.topics[channel] = set
	}
	if _, exists := set[topic]; exists {
		return false
	}
	r.seq++
	set[topic] = r.seq
	return true
}

// Remove deletes topic from channel. Removing an absent topic is a no-op and
// reports false.
func (r *Registry) Remove(channel models.ChannelKind, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.topics[channel]
	if _, exists := set[topic]; !exists {
		return false
	}
	delete(set, topic)
	return true
}

func (r *Registry) IsActive(channel models.ChannelKind, topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.topics[channel][topic]
	return ok
}

// AllFor returns the active topics of channel in the order they were added.
func (r *Registry) AllFor(channel models.ChannelKind) []string {
	r.mu.RLock()
	set := r.topics[channel]
	type entry struct {
		topic string
		seq   uint64
	}
	entries := make([]entry, 0, len(set))
	for topic, seq := range set {
		entries = append(entries, entry{topic: topic, seq: seq})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.topic
	}
	return out
}

// Subscriptions returns the entries of channel as Subscription values.
func (r *Registry) Subscriptions(channel models.ChannelKind) []Subscription {
	topics := r.AllFor(channel)
	out := make([]Subscription, len(topics))
	for i, topic := range topics {
		out[i] = Subscription{Channel: channel, Topic: topic, Active: true}
	}
	return out
}

func (r *Registry) Count(channel models.ChannelKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[channel])
}

// Clear drops every topic of channel. It is the only bulk removal.
func (r *Registry) Clear(channel models.ChannelKind) {
	r.mu.Lock()
	delete(r.topics, channel)
	r.mu.Unlock()
}
