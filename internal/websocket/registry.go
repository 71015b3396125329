package websocket

import "sync"

// Registry is the channel-name -> member-set bookkeeping. It is the only
// shared mutable state of the relay: Join/Leave mutate it, Members reads a
// snapshot for fan-out. Channels are created lazily on first join and pruned
// when the last member leaves; a later join transparently recreates them.
//
// A single instance is constructed at service start and injected into the
// hub, never reached as package state.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]bool
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]map[*Client]bool),
	}
}

// Join adds a client to a channel, creating the channel entry if absent.
// Joining twice is a no-op. Returns true when the join brought the channel
// from zero members to one (the channel-occupied transition).
func (r *Registry) Join(channel string, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		members = make(map[*Client]bool)
		r.channels[channel] = members
	}
	members[client] = true
	return !ok
}

// Leave removes a client from a channel. Leaving a channel the client never
// joined is a no-op. The channel entry is dropped once empty; returns true
// on that channel-vacated transition.
func (r *Registry) Leave(channel string, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok || !members[client] {
		return false
	}
	delete(members, client)
	if len(members) == 0 {
		delete(r.channels, channel)
		return true
	}
	return false
}

// Members returns a snapshot of the channel's member set. The copy is safe
// to iterate while clients join, leave or disconnect concurrently; a channel
// with no members yields an empty slice.
func (r *Registry) Members(channel string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[channel]
	snapshot := make([]*Client, 0, len(members))
	for client := range members {
		snapshot = append(snapshot, client)
	}
	return snapshot
}

// Count returns the current number of members of a channel.
func (r *Registry) Count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

// Contains reports whether the client is currently a member of the channel.
func (r *Registry) Contains(channel string, client *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[channel][client]
}

// Channels returns the names of all channels with at least one member.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}
