package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/leadscore/internal/adapters/ws"
	"github.com/okian/leadscore/internal/domain/model"
)

func startHub(t *testing.T) (string, *ws.Hub) {
	t.Helper()

	hub := ws.NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var msg ws.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func updateFor(leadID string, score int) model.ScoreUpdate {
	return model.ScoreUpdate{
		LeadID:    leadID,
		NewScore:  score,
		Change:    score,
		EventType: model.EventPurchase,
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// waitForCount polls until the hub sees want clients.
func waitForCount(hub *ws.Hub, want int) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == want {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestFirehoseBroadcast(t *testing.T) {
	Convey("Given connected firehose clients", t, func() {
		wsURL, hub := startHub(t)
		c1 := dial(t, wsURL)
		c2 := dial(t, wsURL)
		So(waitForCount(hub, 2), ShouldBeTrue)

		Convey("When a score update is broadcast", func() {
			hub.Broadcast(context.Background(), updateFor("lead-1", 100))

			Convey("Then every client receives it", func() {
				for _, conn := range []*websocket.Conn{c1, c2} {
					msg := readMessage(t, conn)
					So(msg.Event, ShouldEqual, "score_update")
					So(msg.Data.LeadID, ShouldEqual, "lead-1")
					So(msg.Data.NewScore, ShouldEqual, 100)
				}
			})
		})
	})
}

func TestLeadFilteredSubscription(t *testing.T) {
	Convey("Given a client subscribed to one lead", t, func() {
		wsURL, hub := startHub(t)
		conn := dial(t, wsURL+"?lead_id=lead-2")
		So(waitForCount(hub, 1), ShouldBeTrue)

		Convey("When updates for two leads are broadcast", func() {
			hub.Broadcast(context.Background(), updateFor("lead-1", 50))
			hub.Broadcast(context.Background(), updateFor("lead-2", 75))

			Convey("Then only the subscribed lead's update arrives", func() {
				msg := readMessage(t, conn)
				So(msg.Data.LeadID, ShouldEqual, "lead-2")
				So(msg.Data.NewScore, ShouldEqual, 75)
			})
		})
	})
}

func TestClientLifecycle(t *testing.T) {
	Convey("Given a connected client", t, func() {
		wsURL, hub := startHub(t)
		conn := dial(t, wsURL)
		So(waitForCount(hub, 1), ShouldBeTrue)

		Convey("When the client disconnects", func() {
			conn.Close()

			Convey("Then the hub forgets it", func() {
				So(waitForCount(hub, 0), ShouldBeTrue)
			})
		})

		Convey("When the hub shuts down", func() {
			hub.Shutdown()
			So(hub.Count(), ShouldEqual, 0)
		})
	})
}

func TestNonWebSocketRequestRejected(t *testing.T) {
	Convey("Given the hub endpoint", t, func() {
		hub := ws.NewHub()
		srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
		defer srv.Close()

		Convey("When a plain GET arrives without upgrade headers", func() {
			resp, err := http.Get(srv.URL)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then it is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}
