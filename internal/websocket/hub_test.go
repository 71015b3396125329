package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/52200132/SuaChuaXeMay-sub000/internal/auth"
)

const (
	testAppKey    = "test-key"
	testAppSecret = "test-secret"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	signer := auth.NewSignatureAuthorizer(testAppKey, testAppSecret)
	hub := NewHub(NewRegistry(), signer, nil, nil)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func register(t *testing.T, hub *Hub) (*Client, *mockConn) {
	t.Helper()
	client, conn := newTestClient(hub)
	hub.register <- client
	waitFor(t, func() bool {
		return len(conn.framesWithEvent(EventConnectionEstablished)) == 1
	}, "connection ack")
	return client, conn
}

func subscribe(hub *Hub, client *Client, channel, authSig, channelData string) {
	hub.inbound <- &clientFrame{
		client: client,
		frame: &Inbound{
			Kind: InboundSubscribe,
			Subscribe: SubscribeData{
				Channel:     channel,
				Auth:        authSig,
				ChannelData: channelData,
			},
		},
	}
}

func TestConnectionAck(t *testing.T) {
	hub := newTestHub(t)
	client, conn := register(t, hub)

	acks := conn.framesWithEvent(EventConnectionEstablished)
	if len(acks) != 1 {
		t.Fatalf("expected 1 connection ack, got %d", len(acks))
	}

	// The ack data is a JSON-encoded string holding the real payload.
	var inner string
	if err := json.Unmarshal(acks[0].Data, &inner); err != nil {
		t.Fatalf("ack data should be a JSON string: %v", err)
	}
	var payload struct {
		SocketID        string `json:"socket_id"`
		ActivityTimeout int    `json:"activity_timeout"`
	}
	if err := json.Unmarshal([]byte(inner), &payload); err != nil {
		t.Fatalf("failed to decode ack payload: %v", err)
	}
	if payload.SocketID != client.SocketID() {
		t.Errorf("ack socket_id = %q, want %q", payload.SocketID, client.SocketID())
	}
	if payload.ActivityTimeout != 120 {
		t.Errorf("ack activity_timeout = %d, want 120", payload.ActivityTimeout)
	}
}

func TestSubscribePublicChannel(t *testing.T) {
	hub := newTestHub(t)
	client, conn := register(t, hub)

	subscribe(hub, client, "order-channel", "", "")
	waitFor(t, func() bool {
		return len(conn.framesWithEvent(EventSubscriptionSucceeded)) == 1
	}, "subscription ack")

	acks := conn.framesWithEvent(EventSubscriptionSucceeded)
	if acks[0].Channel != "order-channel" {
		t.Errorf("ack channel = %q, want %q", acks[0].Channel, "order-channel")
	}
	if !hub.registry.Contains("order-channel", client) {
		t.Error("client should be a member of order-channel")
	}

	t.Run("SubscribeTwiceIsIdempotent", func(t *testing.T) {
		subscribe(hub, client, "order-channel", "", "")
		waitFor(t, func() bool {
			return len(conn.framesWithEvent(EventSubscriptionSucceeded)) == 2
		}, "second subscription ack")

		if got := hub.registry.Count("order-channel"); got != 1 {
			t.Errorf("member count after double subscribe = %d, want 1", got)
		}
	})
}

func TestSubscribePrivateChannel(t *testing.T) {
	hub := newTestHub(t)
	signer := auth.NewSignatureAuthorizer(testAppKey, testAppSecret)

	t.Run("NoAuthRejected", func(t *testing.T) {
		client, conn := register(t, hub)

		subscribe(hub, client, "private-staff-7", "", "")
		waitFor(t, func() bool {
			return len(conn.framesWithEvent(EventSubscriptionError)) == 1
		}, "subscription error")

		errs := conn.framesWithEvent(EventSubscriptionError)
		if errs[0].Channel != "private-staff-7" {
			t.Errorf("error channel = %q, want %q", errs[0].Channel, "private-staff-7")
		}
		if hub.registry.Contains("private-staff-7", client) {
			t.Error("unauthorized client must not become a member")
		}
	})

	t.Run("ForgedSignatureRejected", func(t *testing.T) {
		client, conn := register(t, hub)

		subscribe(hub, client, "private-staff-7", testAppKey+":deadbeef", "")
		waitFor(t, func() bool {
			return len(conn.framesWithEvent(EventSubscriptionError)) == 1
		}, "subscription error")

		if hub.registry.Contains("private-staff-7", client) {
			t.Error("client with forged signature must not become a member")
		}
	})

	t.Run("ValidSignatureGranted", func(t *testing.T) {
		client, conn := register(t, hub)

		sig := signer.Sign(client.SocketID(), "private-staff-7", "")
		subscribe(hub, client, "private-staff-7", sig, "")
		waitFor(t, func() bool {
			return len(conn.framesWithEvent(EventSubscriptionSucceeded)) == 1
		}, "subscription ack")

		if !hub.registry.Contains("private-staff-7", client) {
			t.Error("authorized client should be a member")
		}
	})
}

func TestPresenceChannel(t *testing.T) {
	hub := newTestHub(t)
	signer := auth.NewSignatureAuthorizer(testAppKey, testAppSecret)

	joinPresence := func(t *testing.T, client *Client, conn *mockConn, userID string) {
		t.Helper()
		channelData := `{"user_id":"` + userID + `"}`
		sig := signer.Sign(client.SocketID(), "presence-workshop", channelData)
		subscribe(hub, client, "presence-workshop", sig, channelData)
		waitFor(t, func() bool {
			return len(conn.framesWithEvent(EventSubscriptionSucceeded)) == 1
		}, "presence subscription ack")
	}

	client1, conn1 := register(t, hub)
	joinPresence(t, client1, conn1, "tech-1")

	client2, conn2 := register(t, hub)
	joinPresence(t, client2, conn2, "tech-2")

	t.Run("RosterInSubscriptionAck", func(t *testing.T) {
		acks := conn2.framesWithEvent(EventSubscriptionSucceeded)
		var payload struct {
			Presence struct {
				Count int      `json:"count"`
				IDs   []string `json:"ids"`
			} `json:"presence"`
		}
		if err := json.Unmarshal(acks[0].Data, &payload); err != nil {
			t.Fatalf("failed to decode roster: %v", err)
		}
		if payload.Presence.Count != 2 {
			t.Errorf("roster count = %d, want 2", payload.Presence.Count)
		}
	})

	t.Run("MemberAddedNotifiesExistingMembers", func(t *testing.T) {
		waitFor(t, func() bool {
			return len(conn1.framesWithEvent(EventMemberAdded)) == 1
		}, "member_added")

		var member auth.PresenceMember
		added := conn1.framesWithEvent(EventMemberAdded)
		if err := json.Unmarshal(added[0].Data, &member); err != nil {
			t.Fatalf("failed to decode member_added: %v", err)
		}
		if member.UserID != "tech-2" {
			t.Errorf("member_added user_id = %q, want %q", member.UserID, "tech-2")
		}
		if len(conn2.framesWithEvent(EventMemberAdded)) != 0 {
			t.Error("joining client must not receive its own member_added")
		}
	})

	t.Run("MemberRemovedOnDisconnect", func(t *testing.T) {
		hub.unregister <- client2
		waitFor(t, func() bool {
			return len(conn1.framesWithEvent(EventMemberRemoved)) == 1
		}, "member_removed")
	})
}

func TestDisconnectCleanup(t *testing.T) {
	hub := newTestHub(t)
	client, conn := register(t, hub)
	other, _ := register(t, hub)

	channels := []string{"order-channel", "reception-channel", "warehouse-channel"}
	for _, ch := range channels {
		subscribe(hub, client, ch, "", "")
	}
	subscribe(hub, other, "order-channel", "", "")
	waitFor(t, func() bool {
		return len(conn.framesWithEvent(EventSubscriptionSucceeded)) == len(channels)
	}, "subscription acks")

	hub.unregister <- client
	waitFor(t, func() bool {
		return !hub.registry.Contains("order-channel", client)
	}, "membership cleanup")

	for _, ch := range channels {
		if hub.registry.Contains(ch, client) {
			t.Errorf("disconnected client still a member of %s", ch)
		}
	}
	if !hub.registry.Contains("order-channel", other) {
		t.Error("other client's membership must be unaffected by the disconnect")
	}

	// Channels with no remaining members are pruned.
	if got := hub.registry.Count("reception-channel"); got != 0 {
		t.Errorf("reception-channel count = %d, want 0", got)
	}
	for _, name := range hub.registry.Channels() {
		if name != "order-channel" {
			t.Errorf("channel %s should have been pruned", name)
		}
	}

	// Disconnecting twice must be safe.
	hub.unregister <- client
	waitFor(t, func() bool {
		return hub.registry.Contains("order-channel", other)
	}, "idempotent disconnect")
}

func TestBroadcastFanout(t *testing.T) {
	hub := newTestHub(t)
	client1, conn1 := register(t, hub)
	client2, conn2 := register(t, hub)
	_, conn3 := register(t, hub)

	subscribe(hub, client1, "order-channel", "", "")
	subscribe(hub, client2, "order-channel", "", "")
	waitFor(t, func() bool {
		return hub.registry.Count("order-channel") == 2
	}, "two members")

	data := json.RawMessage(`{"order_id":42}`)
	if err := hub.Broadcast(context.Background(), "order-channel", "order:updated", data); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	waitFor(t, func() bool {
		return len(conn1.framesWithEvent("order:updated")) == 1 &&
			len(conn2.framesWithEvent("order:updated")) == 1
	}, "fan-out to both members")

	for i, conn := range []*mockConn{conn1, conn2} {
		events := conn.framesWithEvent("order:updated")
		if len(events) != 1 {
			t.Fatalf("member %d received %d deliveries, want exactly 1", i+1, len(events))
		}
		if events[0].Channel != "order-channel" {
			t.Errorf("delivered channel = %q, want %q", events[0].Channel, "order-channel")
		}
		if string(events[0].Data) != `{"order_id":42}` {
			t.Errorf("payload passed through modified: %s", events[0].Data)
		}
	}

	// Give any stray delivery a moment to show up.
	time.Sleep(50 * time.Millisecond)
	if got := len(conn3.framesWithEvent("order:updated")); got != 0 {
		t.Errorf("non-member received %d deliveries, want 0", got)
	}
}

func TestBroadcastEmptyChannelIsNoOp(t *testing.T) {
	hub := newTestHub(t)
	_, conn := register(t, hub)

	if err := hub.Broadcast(context.Background(), "no-such-channel", "e", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("broadcast to empty channel must succeed, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(conn.framesWithEvent("e")); got != 0 {
		t.Errorf("expected zero deliveries, got %d", got)
	}
}

func TestBroadcastOrderingPerPublisher(t *testing.T) {
	hub := newTestHub(t)
	client, conn := register(t, hub)

	subscribe(hub, client, "order-channel", "", "")
	waitFor(t, func() bool {
		return hub.registry.Count("order-channel") == 1
	}, "membership")

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		data, _ := json.Marshal(map[string]int{"seq": i})
		if err := hub.Broadcast(ctx, "order-channel", "seq:event", data); err != nil {
			t.Fatalf("broadcast %d failed: %v", i, err)
		}
	}

	waitFor(t, func() bool {
		return len(conn.framesWithEvent("seq:event")) == 10
	}, "all deliveries")

	for i, frame := range conn.framesWithEvent("seq:event") {
		var payload struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			t.Fatalf("failed to decode delivery %d: %v", i, err)
		}
		if payload.Seq != i {
			t.Fatalf("delivery %d has seq %d; order not preserved", i, payload.Seq)
		}
	}
}

func TestClientEvents(t *testing.T) {
	hub := newTestHub(t)
	signer := auth.NewSignatureAuthorizer(testAppKey, testAppSecret)

	t.Run("PublishToPublicChannel", func(t *testing.T) {
		sender, _ := register(t, hub)
		receiver, recvConn := register(t, hub)
		subscribe(hub, receiver, "order-channel", "", "")
		waitFor(t, func() bool {
			return hub.registry.Count("order-channel") == 1
		}, "membership")

		hub.inbound <- &clientFrame{
			client: sender,
			frame: &Inbound{
				Kind:    InboundClientEvent,
				Event:   "order:refresh",
				Channel: "order-channel",
				Data:    json.RawMessage(`{"order_id":7}`),
			},
		}

		waitFor(t, func() bool {
			return len(recvConn.framesWithEvent("order:refresh")) == 1
		}, "relayed client event")
	})

	t.Run("ClientPrefixedEventRequiresMembership", func(t *testing.T) {
		sender, sendConn := register(t, hub)

		hub.inbound <- &clientFrame{
			client: sender,
			frame: &Inbound{
				Kind:    InboundClientEvent,
				Event:   "client-typing",
				Channel: "order-channel",
				Data:    json.RawMessage(`{}`),
			},
		}

		waitFor(t, func() bool {
			return len(sendConn.framesWithEvent(EventError)) == 1
		}, "client event rejection")
	})

	t.Run("ClientPrefixedEventOnJoinedPrivateChannel", func(t *testing.T) {
		sender, _ := register(t, hub)
		receiver, recvConn := register(t, hub)

		for _, c := range []*Client{sender, receiver} {
			sig := signer.Sign(c.SocketID(), "private-staff-7", "")
			subscribe(hub, c, "private-staff-7", sig, "")
		}
		waitFor(t, func() bool {
			return hub.registry.Count("private-staff-7") == 2
		}, "both members")

		hub.inbound <- &clientFrame{
			client: sender,
			frame: &Inbound{
				Kind:    InboundClientEvent,
				Event:   "client-typing",
				Channel: "private-staff-7",
				Data:    json.RawMessage(`{}`),
			},
		}

		waitFor(t, func() bool {
			return len(recvConn.framesWithEvent("client-typing")) == 1
		}, "client event delivery")
	})
}

func TestUnsubscribe(t *testing.T) {
	hub := newTestHub(t)
	client, conn := register(t, hub)

	subscribe(hub, client, "order-channel", "", "")
	waitFor(t, func() bool {
		return hub.registry.Count("order-channel") == 1
	}, "membership")

	hub.inbound <- &clientFrame{
		client: client,
		frame: &Inbound{
			Kind:      InboundUnsubscribe,
			Subscribe: SubscribeData{Channel: "order-channel"},
		},
	}

	waitFor(t, func() bool {
		return !hub.registry.Contains("order-channel", client)
	}, "membership removal")

	// Unsubscribing again is a no-op, and a later subscribe recreates the
	// pruned channel transparently.
	hub.inbound <- &clientFrame{
		client: client,
		frame: &Inbound{
			Kind:      InboundUnsubscribe,
			Subscribe: SubscribeData{Channel: "order-channel"},
		},
	}
	subscribe(hub, client, "order-channel", "", "")
	waitFor(t, func() bool {
		return len(conn.framesWithEvent(EventSubscriptionSucceeded)) == 2
	}, "resubscribe ack")
	if !hub.registry.Contains("order-channel", client) {
		t.Error("resubscribe after prune should recreate the channel")
	}
}

func TestPingPong(t *testing.T) {
	hub := newTestHub(t)
	client, conn := register(t, hub)

	hub.inbound <- &clientFrame{client: client, frame: &Inbound{Kind: InboundPing}}

	waitFor(t, func() bool {
		return len(conn.framesWithEvent(EventPong)) == 1
	}, "pong")
}

func TestOccupancyEvents(t *testing.T) {
	emitter := &recordingEmitter{}
	signer := auth.NewSignatureAuthorizer(testAppKey, testAppSecret)
	hub := NewHub(NewRegistry(), signer, nil, emitter)
	go hub.Run()
	t.Cleanup(hub.Stop)

	client, _ := register(t, hub)
	subscribe(hub, client, "order-channel", "", "")
	waitFor(t, func() bool {
		return emitter.count("channel_occupied") == 1
	}, "occupied event")

	hub.unregister <- client
	waitFor(t, func() bool {
		return emitter.count("channel_vacated") == 1
	}, "vacated event")

	names := emitter.names()
	if !strings.Contains(strings.Join(names, ","), "channel_occupied") {
		t.Errorf("missing occupied event, got %v", names)
	}
}
