package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type receivedEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newHubForTest(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	go hub.Run()
	return hub
}

// connect registers a connection for uid. The returned client has no
// network connection; the hub only ever touches its send channel.
func connect(hub *Hub, uid string, username string) *Client {
	client := NewClient(hub, nil, make(chan []byte, 16), uid, username, nil, zerolog.Nop())
	hub.Register <- client
	return client
}

func recv(t *testing.T, client *Client) receivedEvent {
	t.Helper()
	select {
	case data, ok := <-client.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var event receivedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("could not decode event: %v", err)
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return receivedEvent{}
	}
}

func expectEvent(t *testing.T, client *Client, event string) receivedEvent {
	t.Helper()
	got := recv(t, client)
	if got.Event != event {
		t.Fatalf("expected event %q, got %q", event, got.Event)
	}
	return got
}

func expectSilence(t *testing.T, client *Client) {
	t.Helper()
	select {
	case data, ok := <-client.send:
		if ok {
			t.Fatalf("unexpected event: %s", data)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func presenceUser(t *testing.T, event receivedEvent) string {
	t.Helper()
	var data PresenceData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		t.Fatal(err)
	}
	return data.UserId
}

func expectOnline(t *testing.T, client *Client, uid string) {
	t.Helper()
	if got := presenceUser(t, expectEvent(t, client, EventUserOnline)); got != uid {
		t.Fatalf("expected %s online, got %s", uid, got)
	}
}

// connectPair brings up one connection each for u1 and u2 and drains the
// presence announcements.
func connectPair(t *testing.T, hub *Hub) (*Client, *Client) {
	t.Helper()
	alice := connect(hub, "u1", "ayse")
	expectOnline(t, alice, "u1")
	bob := connect(hub, "u2", "mehmet")
	expectOnline(t, alice, "u2")
	expectOnline(t, bob, "u2")
	return alice, bob
}

func TestPresenceIsReferenceCounted(t *testing.T) {
	hub := newHubForTest(t)
	alice, bob := connectPair(t, hub)

	// A second tab for Alice does not re-announce her.
	aliceTab := connect(hub, "u1", "ayse")
	expectSilence(t, bob)
	expectSilence(t, aliceTab)

	// Dropping one of two connections keeps her online.
	hub.Unregister(aliceTab)
	expectSilence(t, bob)

	// Closing her last connection announces the offline transition.
	hub.Unregister(alice)
	if got := presenceUser(t, expectEvent(t, bob, EventUserOffline)); got != "u1" {
		t.Fatalf("expected u1 offline, got %s", got)
	}
}

func TestRoomCastExcludesSender(t *testing.T) {
	hub := newHubForTest(t)
	alice, bob := connectPair(t, hub)

	hub.Join(alice, "c1")
	hub.Join(bob, "c1")

	hub.CastRoom("c1", OutgoingEvent{Event: EventMessagesRead, Data: MessagesReadData{ConversationId: "c1", ReadBy: "u1"}}, alice)

	event := expectEvent(t, bob, EventMessagesRead)
	var data MessagesReadData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.ReadBy != "u1" || data.ConversationId != "c1" {
		t.Fatalf("unexpected payload %+v", data)
	}
	expectSilence(t, alice)
}

func TestCastReachesSendersOtherConnections(t *testing.T) {
	hub := newHubForTest(t)

	alice := connect(hub, "u1", "ayse")
	expectOnline(t, alice, "u1")
	aliceTab := connect(hub, "u1", "ayse")

	hub.Join(alice, "c1")
	hub.Join(aliceTab, "c1")

	hub.CastRoom("c1", OutgoingEvent{Event: EventNewMessage}, alice)

	expectEvent(t, aliceTab, EventNewMessage)
	expectSilence(t, alice)
}

func TestLeaveStopsDelivery(t *testing.T) {
	hub := newHubForTest(t)
	alice, bob := connectPair(t, hub)

	hub.Join(alice, "c1")
	hub.Join(bob, "c1")
	hub.Leave(bob, "c1")

	hub.CastRoom("c1", OutgoingEvent{Event: EventNewMessage}, nil)
	expectEvent(t, alice, EventNewMessage)
	expectSilence(t, bob)
}

func TestTypingFanout(t *testing.T) {
	hub := newHubForTest(t)
	alice, bob := connectPair(t, hub)

	hub.Join(alice, "c1")
	hub.Join(bob, "c1")

	hub.SetTyping(alice, "c1", true)

	event := expectEvent(t, bob, EventUserTyping)
	var data TypingData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.ConversationId != "c1" || data.UserId != "u1" || data.Username != "ayse" {
		t.Fatalf("unexpected payload %+v", data)
	}
	expectSilence(t, alice)

	// Repeating the signal is not re-broadcast.
	hub.SetTyping(alice, "c1", true)
	expectSilence(t, bob)

	hub.SetTyping(alice, "c1", false)
	expectEvent(t, bob, EventUserStoppedTyping)

	// Stop without start is a no-op.
	hub.SetTyping(alice, "c1", false)
	expectSilence(t, bob)
}

func TestTypingIgnoredOutsideRoom(t *testing.T) {
	hub := newHubForTest(t)
	alice, bob := connectPair(t, hub)

	hub.Join(bob, "c1")

	// Alice never joined c1; her signal must not reach the room.
	hub.SetTyping(alice, "c1", true)
	expectSilence(t, bob)
}

func TestDisconnectPurgesTypingState(t *testing.T) {
	hub := newHubForTest(t)
	alice, bob := connectPair(t, hub)

	hub.Join(alice, "c1")
	hub.Join(bob, "c1")

	hub.SetTyping(alice, "c1", true)
	expectEvent(t, bob, EventUserTyping)

	hub.Unregister(alice)

	expectEvent(t, bob, EventUserStoppedTyping)
	if got := presenceUser(t, expectEvent(t, bob, EventUserOffline)); got != "u1" {
		t.Fatalf("expected u1 offline, got %s", got)
	}
}
