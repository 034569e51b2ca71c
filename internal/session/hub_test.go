package session

import (
	"testing"

	"github.com/duelbackend/arena/internal/config"
	"github.com/google/uuid"
)

func testHub(maxConnPerUser int) *Hub {
	return NewHub(&config.Config{Session: config.SessionConfig{MaxConnectionsPerUser: maxConnPerUser}}, Deps{}, nil)
}

func testClient(addr string) *Client {
	return &Client{playerAddr: addr, send: make(chan []byte, 4)}
}

func TestHub_RegisterUser_RejectsOverCap(t *testing.T) {
	h := testHub(1)
	a := testClient("0xabc")
	b := testClient("0xabc")
	if !h.RegisterUser(a) {
		t.Fatal("expected first connection to be admitted")
	}
	if h.RegisterUser(b) {
		t.Fatal("expected second connection to be rejected over the per-user cap")
	}
}

func TestHub_BroadcastToUser_ReachesAllDevices(t *testing.T) {
	h := testHub(5)
	a := testClient("0xabc")
	b := testClient("0xabc")
	h.RegisterUser(a)
	h.RegisterUser(b)

	h.BroadcastToUser("0xabc", []byte("hello"))
	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			if string(msg) != "hello" {
				t.Errorf("unexpected message %q", msg)
			}
		default:
			t.Error("expected message to be enqueued")
		}
	}
}

func TestHub_UnregisterUser_RemovesFromAllRooms(t *testing.T) {
	h := testHub(5)
	matchID := uuid.New()
	c := testClient("0xabc")
	h.RegisterUser(c)
	h.JoinMatchRoom(matchID, c)
	h.JoinSpectatorRoom(matchID, c)

	h.UnregisterUser(c)

	if h.ConnectedUsers(matchID) != 0 {
		t.Error("expected match room to be empty after unregister")
	}
	h.mu.RLock()
	_, stillSpectating := h.bySpectator[matchID]
	h.mu.RUnlock()
	if stillSpectating {
		t.Error("expected spectator room to be cleaned up after unregister")
	}
}

func TestHub_BroadcastToMatchAndSpectators_ReachesBothRooms(t *testing.T) {
	h := testHub(5)
	matchID := uuid.New()
	player := testClient("0xplayer")
	spectator := testClient("0xwatcher")
	h.JoinMatchRoom(matchID, player)
	h.JoinSpectatorRoom(matchID, spectator)

	h.BroadcastToMatchAndSpectators(matchID, []byte("tick"))

	for _, c := range []*Client{player, spectator} {
		select {
		case <-c.send:
		default:
			t.Error("expected both participant and spectator to receive the broadcast")
		}
	}
}
