package notify_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fitnessbuddy/pkg/job"
	"fitnessbuddy/pkg/notify"
)

func TestHub_FanOutPerSubscriberSlot(t *testing.T) {
	hub := notify.NewHub(zerolog.Nop())
	_, a := hub.Subscribe()
	_, b := hub.Subscribe()

	hub.Publish(job.Result{UserID: 1})
	if r, ok := a.TryTake(); !ok || r.UserID != 1 {
		t.Fatalf("subscriber a got %+v, %v", r, ok)
	}

	hub.Publish(job.Result{UserID: 2})

	// b never read: it keeps only the newest value.
	r, ok := b.TryTake()
	if !ok || r.UserID != 2 {
		t.Fatalf("subscriber b got %+v, %v; want user 2", r, ok)
	}
	if r, ok := a.TryTake(); !ok || r.UserID != 2 {
		t.Fatalf("subscriber a got %+v, %v; want user 2", r, ok)
	}
}

func TestHub_LateSubscriberMissesEarlierPublish(t *testing.T) {
	hub := notify.NewHub(zerolog.Nop())
	hub.Publish(job.Result{UserID: 1})

	id, box := hub.Subscribe()
	if _, ok := box.TryTake(); ok {
		t.Fatal("late subscriber must not see earlier broadcasts")
	}

	hub.Unsubscribe(id)
	if n := hub.ClientCount(); n != 0 {
		t.Fatalf("ClientCount = %d, want 0", n)
	}
}

func TestHub_WebsocketDelivery(t *testing.T) {
	hub := notify.NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(job.Result{UserID: 42, TotalExercises: 3, DailyExercises: 0.5})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got job.Result
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.UserID != 42 || got.TotalExercises != 3 || got.DailyExercises != 0.5 {
		t.Fatalf("unexpected notification %+v", got)
	}
}
