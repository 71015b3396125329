package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/52200132/SuaChuaXeMay-sub000/internal/auth"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/services"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/webhooks"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrClientDisconnected = fmt.Errorf("client disconnected")
	ErrHubStopped         = fmt.Errorf("hub stopped")
)

// redisOpTimeout bounds every Redis call made from the hub loop so a slow
// backend cannot starve connection handling.
const redisOpTimeout = 2 * time.Second

type clientFrame struct {
	client *Client
	frame  *Inbound
}

type eventMessage struct {
	channel string
	event   string
	data    json.RawMessage

	// relayed marks events received from another relay node; they are
	// delivered locally but not republished.
	relayed bool
}

// Hub owns the set of live connections and mediates every subscribe,
// unsubscribe and publish. All state transitions run on the single Run loop,
// so connection handling never races against itself; the registry's own lock
// covers the read-side snapshots taken by concurrent HTTP triggers.
type Hub struct {
	registry   *Registry
	authorizer auth.Authorizer

	// Optional backends; nil means single-node operation.
	redisService *services.RedisService
	emitter      webhooks.Emitter

	// nodeID distinguishes this instance's relay messages from remote ones.
	nodeID string

	// Registered clients
	clients map[*Client]bool

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Decoded frames from client read pumps
	inbound chan *clientFrame

	// Broadcast requests from clients, HTTP triggers and the relay
	broadcast chan *eventMessage

	// Redis relay subscription
	pubsub *redis.PubSub

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(registry *Registry, authorizer auth.Authorizer, redisService *services.RedisService, emitter webhooks.Emitter) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		registry:     registry,
		authorizer:   authorizer,
		redisService: redisService,
		emitter:      emitter,
		nodeID:       uuid.New().String(),
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		inbound:      make(chan *clientFrame),
		broadcast:    make(chan *eventMessage, 64),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (h *Hub) Run() {
	if h.redisService != nil {
		go h.consumeRelay()
	}

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.disconnectClient(client)

		case cf := <-h.inbound:
			h.handleFrame(cf.client, cf.frame)

		case msg := <-h.broadcast:
			h.broadcastLocal(msg)
			if !msg.relayed {
				h.publishToRelay(msg)
			}

		case <-h.ctx.Done():
			slog.Info("WebSocket hub shutting down")
			return
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}

// Broadcast queues an event for fan-out to the channel's current members.
// It is the entry point for HTTP triggers and bounded by the caller's
// context; a channel with no members is a legal no-op.
func (h *Hub) Broadcast(ctx context.Context, channel, event string, data json.RawMessage) error {
	msg := &eventMessage{channel: channel, event: event, data: data}

	select {
	case h.broadcast <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubStopped
	}
}

// Subscribers returns the current local member count of a channel.
func (h *Hub) Subscribers(channel string) int {
	return h.registry.Count(channel)
}

func (h *Hub) registerClient(client *Client) {
	h.clients[client] = true

	if err := client.SendFrame(NewConnectionEstablished(client.SocketID())); err != nil {
		slog.Warn("Failed to send connection ack", "socketID", client.SocketID(), "error", err)
	}

	slog.Info("Client registered", "socketID", client.SocketID())
}

// disconnectClient removes a connection from every channel it joined and
// prunes the channels that became empty. Safe to call twice.
func (h *Hub) disconnectClient(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)

	for _, channel := range client.Channels() {
		h.leaveChannel(client, channel)
	}

	client.close()
	client.closeSendChannel()

	slog.Info("Client disconnected", "socketID", client.SocketID())
}

func (h *Hub) handleFrame(client *Client, frame *Inbound) {
	switch frame.Kind {
	case InboundSubscribe:
		h.handleSubscribe(client, frame.Subscribe)

	case InboundUnsubscribe:
		h.handleUnsubscribe(client, frame.Subscribe.Channel)

	case InboundPing:
		client.SendFrame(NewPong())

	case InboundClientEvent:
		h.handleClientEvent(client, frame)

	default:
		slog.Warn("Dropping frame of unknown kind", "socketID", client.SocketID(), "kind", frame.Kind)
	}
}

func (h *Hub) handleSubscribe(client *Client, sub SubscribeData) {
	grant, err := h.authorizer.Authorize(client.SocketID(), sub.Channel, sub.Auth, sub.ChannelData)
	if err != nil {
		slog.Warn("Subscription denied", "socketID", client.SocketID(), "channel", sub.Channel, "reason", err)
		client.SendFrame(NewSubscriptionError(sub.Channel, err.Error()))
		return
	}

	created := h.registry.Join(sub.Channel, client)
	client.addChannel(sub.Channel, grant.Member)

	if h.redisService != nil {
		ctx, cancel := context.WithTimeout(h.ctx, redisOpTimeout)
		if err := h.redisService.AddChannelMember(ctx, sub.Channel, client.SocketID(), grant.Member); err != nil {
			slog.Error("Presence bookkeeping failed on join", "channel", sub.Channel, "error", err)
		}
		cancel()
	}

	var data json.RawMessage
	if grant.Member != nil {
		data = h.presenceData(sub.Channel)
		h.notifyPresence(client, sub.Channel, EventMemberAdded, grant.Member)
	}

	client.SendFrame(NewSubscriptionSucceeded(sub.Channel, data))
	slog.Info("Client subscribed", "socketID", client.SocketID(), "channel", sub.Channel)

	if created {
		h.emitOccupancy(webhooks.EventChannelOccupied, sub.Channel)
	}
}

func (h *Hub) handleUnsubscribe(client *Client, channel string) {
	if !client.inChannel(channel) {
		return
	}
	h.leaveChannel(client, channel)
	slog.Info("Client unsubscribed", "socketID", client.SocketID(), "channel", channel)
}

// leaveChannel is the shared membership teardown used by unsubscribe and
// disconnect cleanup.
func (h *Hub) leaveChannel(client *Client, channel string) {
	vacated := h.registry.Leave(channel, client)
	member := client.removeChannel(channel)

	if h.redisService != nil {
		ctx, cancel := context.WithTimeout(h.ctx, redisOpTimeout)
		if err := h.redisService.RemoveChannelMember(ctx, channel, client.SocketID()); err != nil {
			slog.Error("Presence bookkeeping failed on leave", "channel", channel, "error", err)
		}
		cancel()
	}

	if member != nil {
		h.notifyPresence(client, channel, EventMemberRemoved, member)
	}

	if vacated {
		h.emitOccupancy(webhooks.EventChannelVacated, channel)
	}
}

func (h *Hub) handleClientEvent(client *Client, frame *Inbound) {
	if IsClientEvent(frame.Event) {
		// Client-prefixed events follow the restricted-channel rule: only
		// members of a private/presence channel may publish them.
		if !auth.ClassifyChannel(frame.Channel).IsRestricted() || !client.inChannel(frame.Channel) {
			slog.Warn("Rejected client event", "socketID", client.SocketID(), "channel", frame.Channel, "event", frame.Event)
			client.SendFrame(NewErrorFrame(fmt.Sprintf("client event %q not allowed on channel %q", frame.Event, frame.Channel)))
			return
		}
	}

	msg := &eventMessage{channel: frame.Channel, event: frame.Event, data: frame.Data}
	h.broadcastLocal(msg)
	h.publishToRelay(msg)
}

// broadcastLocal delivers an event to the current membership snapshot.
// Members whose transport already failed are skipped and cleaned up; they
// are never retried.
func (h *Hub) broadcastLocal(msg *eventMessage) {
	members := h.registry.Members(msg.channel)
	if len(members) == 0 {
		return
	}

	frame := NewEvent(msg.channel, msg.event, msg.data)

	var failed []*Client
	for _, member := range members {
		if err := member.SendFrame(frame); err != nil {
			failed = append(failed, member)
		}
	}

	for _, member := range failed {
		h.disconnectClient(member)
	}

	slog.Debug("Event fanned out", "channel", msg.channel, "event", msg.event, "delivered", len(members)-len(failed))
}

// notifyPresence tells the other local members of a presence channel about a
// membership change.
func (h *Hub) notifyPresence(origin *Client, channel, event string, member *auth.PresenceMember) {
	data, err := json.Marshal(member)
	if err != nil {
		return
	}

	frame := NewEvent(channel, event, data)
	for _, other := range h.registry.Members(channel) {
		if other == origin {
			continue
		}
		other.SendFrame(frame)
	}
}

// presenceData builds the roster snapshot attached to a presence channel's
// subscription ack.
func (h *Hub) presenceData(channel string) json.RawMessage {
	roster := make(map[string]*auth.PresenceMember)

	if h.redisService != nil {
		ctx, cancel := context.WithTimeout(h.ctx, redisOpTimeout)
		remote, err := h.redisService.ChannelRoster(ctx, channel)
		cancel()
		if err == nil {
			roster = remote
		} else {
			slog.Error("Failed to load presence roster", "channel", channel, "error", err)
		}
	}

	if len(roster) == 0 {
		for _, member := range h.registry.Members(channel) {
			if pm := member.presenceMember(channel); pm != nil {
				roster[member.SocketID()] = pm
			}
		}
	}

	ids := make([]string, 0, len(roster))
	hash := make(map[string]any, len(roster))
	for _, pm := range roster {
		ids = append(ids, pm.UserID)
		hash[pm.UserID] = pm.UserInfo
	}

	data, _ := json.Marshal(map[string]any{
		"presence": map[string]any{
			"count": len(ids),
			"ids":   ids,
			"hash":  hash,
		},
	})
	return data
}

func (h *Hub) publishToRelay(msg *eventMessage) {
	if h.redisService == nil {
		return
	}

	env := &services.RelayEnvelope{
		Node:    h.nodeID,
		Channel: msg.channel,
		Event:   msg.event,
		Data:    msg.data,
	}

	// Fire and forget; local delivery already happened.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
		defer cancel()
		if err := h.redisService.PublishEvent(ctx, env); err != nil {
			slog.Error("Relay publish failed", "channel", env.Channel, "event", env.Event, "error", err)
		}
	}()
}

// consumeRelay delivers events published by other relay nodes to the local
// membership.
func (h *Hub) consumeRelay() {
	h.pubsub = h.redisService.SubscribeEvents(h.ctx)

	for msg := range h.pubsub.Channel() {
		var env services.RelayEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			slog.Warn("Dropping unreadable relay envelope", "error", err)
			continue
		}
		if env.Node == h.nodeID {
			continue
		}

		select {
		case h.broadcast <- &eventMessage{channel: env.Channel, event: env.Event, data: env.Data, relayed: true}:
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) emitOccupancy(name, channel string) {
	if h.emitter == nil {
		return
	}

	event := webhooks.NewEvent(name, channel)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.emitter.Emit(ctx, event); err != nil {
			slog.Error("Failed to emit occupancy event", "name", name, "channel", channel, "error", err)
		}
	}()
}
