package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func recvMessage(t *testing.T, c *Client, timeout time.Duration) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal message: %v", err)
		}
		return msg
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for message")
		return Message{}
	}
}

func assertNoMessage(t *testing.T, c *Client, wait time.Duration) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(wait):
	}
}

func TestBroadcastToUserDelivers(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	go hub.Run()

	client := NewClient(hub, nil, 42)
	client.Register()

	hub.BroadcastToUser(42, MsgTypePositionUpdate, map[string]float64{"latitude": 40.0})

	msg := recvMessage(t, client, 200*time.Millisecond)
	if msg.Type != MsgTypePositionUpdate {
		t.Fatalf("unexpected message type: %s", msg.Type)
	}
}

func TestBroadcastUserIsolation(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	go hub.Run()

	alice := NewClient(hub, nil, 1)
	alice.Register()
	bob := NewClient(hub, nil, 2)
	bob.Register()

	hub.BroadcastToUser(1, MsgTypeSegmentPainted, "seg")

	msg := recvMessage(t, alice, 200*time.Millisecond)
	if msg.Type != MsgTypeSegmentPainted {
		t.Fatalf("unexpected message type: %s", msg.Type)
	}
	assertNoMessage(t, bob, 50*time.Millisecond)
}

func TestInitDataOnRegister(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	hub.SetInitDataProvider(func(userID int64) interface{} {
		return map[string]int64{"user_id": userID}
	})
	go hub.Run()

	client := NewClient(hub, nil, 7)
	client.Register()

	msg := recvMessage(t, client, 200*time.Millisecond)
	if msg.Type != MsgTypeInit {
		t.Fatalf("expected init message, got %s", msg.Type)
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	go hub.Run()

	client := NewClient(hub, nil, 9)
	client.Register()
	client.Unregister()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatalf("expected send channel closed")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for close")
	}
}

func TestSlowConsumerEvicted(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	go hub.Run()

	client := NewClient(hub, nil, 3)
	client.Register()

	// 客户端不消费，塞满发送缓冲后应被剔除
	for i := 0; i < 300; i++ {
		hub.BroadcastToUser(3, MsgTypePositionUpdate, i)
	}

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("slow consumer not evicted, clients=%d", hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChannelHelpers(t *testing.T) {
	ch := redisChannel(42)
	if ch != "tracking:42:broadcast" {
		t.Fatalf("unexpected channel: %s", ch)
	}
	if userIDFromChannel(ch) != 42 {
		t.Fatalf("round trip failed: %d", userIDFromChannel(ch))
	}
	if userIDFromChannel("bad") != 0 {
		t.Fatalf("expected 0 for malformed channel")
	}
	if userIDFromChannel("tracking:abc:broadcast") != 0 {
		t.Fatalf("expected 0 for non-numeric user id")
	}
}

func TestRedisFanoutAcrossInstances(t *testing.T) {
	s := miniredis.RunT(t)

	hub1 := NewHub(zap.NewNop(), redis.NewClient(&redis.Options{Addr: s.Addr()}))
	hub2 := NewHub(zap.NewNop(), redis.NewClient(&redis.Options{Addr: s.Addr()}))
	go hub1.Run()
	go hub2.Run()

	local := NewClient(hub1, nil, 7)
	local.Register()
	remote := NewClient(hub2, nil, 7)
	remote.Register()

	// 等待订阅建立
	time.Sleep(50 * time.Millisecond)

	hub1.BroadcastToUser(7, MsgTypeStateChange, map[string]string{"to": "active"})

	localMsg := recvMessage(t, local, 500*time.Millisecond)
	if localMsg.Type != MsgTypeStateChange {
		t.Fatalf("unexpected local message type: %s", localMsg.Type)
	}
	remoteMsg := recvMessage(t, remote, 500*time.Millisecond)
	if remoteMsg.Type != MsgTypeStateChange {
		t.Fatalf("unexpected remote message type: %s", remoteMsg.Type)
	}

	// 发布实例跳过自己转发的消息，本地连接只收到一次
	assertNoMessage(t, local, 100*time.Millisecond)
}
