package internal

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

type socketTestServer struct {
	*httptest.Server

	frames chan SentPayload
	send   chan string
}

// newSocketTestServer runs a minimal push channel upstream: it greets with
// hello, relays any queued frames and records everything the client sends.
func newSocketTestServer(t *testing.T, helloInterval int64) *socketTestServer {
	t.Helper()

	server := &socketTestServer{
		frames: make(chan SentPayload, 16),
		send:   make(chan string, 16),
	}

	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()

		err = conn.Write(ctx, websocket.MessageText,
			[]byte(`{"op":1,"d":{"heartbeat_interval":`+strconv.FormatInt(helloInterval, 10)+`}}`))
		if err != nil {
			return
		}

		go func() {
			for frame := range server.send {
				if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
					return
				}
			}
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}

			var payload SentPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				continue
			}

			server.frames <- payload
		}
	}))

	return server
}

func (server *socketTestServer) nextFrame(t *testing.T) SentPayload {
	t.Helper()

	select {
	case frame := <-server.frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a frame")

		return SentPayload{}
	}
}

func newTestSocket(serverURL string) (*Socket, *Document) {
	doc := NewDocument("Test Page")
	renderer := NewRenderer(zerolog.Nop(), doc, nil, nil, "123456789")

	return NewSocket(zerolog.Nop(), serverURL, "123456789", renderer), doc
}

func TestSocketSubscribesAfterHello(t *testing.T) {
	server := newSocketTestServer(t, 100)
	defer server.Close()

	socket, _ := newTestSocket(server.URL)
	defer socket.Close()

	if err := socket.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	frame := server.nextFrame(t)
	if frame.Op != SocketOpSubscribe {
		t.Fatalf("Expected first frame to be subscribe, but got op %d", frame.Op)
	}

	data, ok := frame.Data.(map[string]interface{})
	if !ok || data["subscribe_to_id"] != "123456789" {
		t.Errorf("Expected subscribe for the configured user, but got %+v", frame.Data)
	}

	waitForStatus(t, socket, SocketStatusSubscribed)
}

func TestSocketHeartbeats(t *testing.T) {
	server := newSocketTestServer(t, 50)
	defer server.Close()

	socket, _ := newTestSocket(server.URL)
	defer socket.Close()

	if err := socket.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	if frame := server.nextFrame(t); frame.Op != SocketOpSubscribe {
		t.Fatalf("Expected subscribe, but got op %d", frame.Op)
	}

	if frame := server.nextFrame(t); frame.Op != SocketOpHeartbeat {
		t.Fatalf("Expected heartbeat, but got op %d", frame.Op)
	}

	if frame := server.nextFrame(t); frame.Op != SocketOpHeartbeat {
		t.Fatalf("Expected a second heartbeat, but got op %d", frame.Op)
	}
}

func TestSocketAppliesSnapshot(t *testing.T) {
	server := newSocketTestServer(t, 1000)
	defer server.Close()

	socket, doc := newTestSocket(server.URL)
	defer socket.Close()

	if err := socket.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	server.nextFrame(t)

	server.send <- `{"op":0,"t":"INIT_STATE","d":{"discord_user":{"id":"123456789","username":"tester","global_name":"Live Tester"},"discord_status":"online","activities":[]}}`

	waitForDocument(t, doc, "Live Tester")
}

func TestSocketErrorFrameKeepsChannelOpen(t *testing.T) {
	server := newSocketTestServer(t, 1000)
	defer server.Close()

	socket, doc := newTestSocket(server.URL)
	defer socket.Close()

	if err := socket.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	server.nextFrame(t)

	server.send <- `{"error":{"message":"User is not being monitored"},"success":false}`

	waitForDocument(t, doc, "User is not being monitored")

	if status := socket.GetStatus(); status == SocketStatusClosed {
		t.Error("Expected channel to stay open after an error frame")
	}

	server.send <- `{"op":0,"t":"PRESENCE_UPDATE","d":{"discord_user":{"id":"123456789","username":"tester","global_name":"Recovered"},"discord_status":"idle","activities":[]}}`

	waitForDocument(t, doc, "Recovered")
}

func TestSocketCloseIsTerminal(t *testing.T) {
	server := newSocketTestServer(t, 50)
	defer server.Close()

	socket, _ := newTestSocket(server.URL)

	if err := socket.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	server.nextFrame(t)

	socket.Close()
	socket.Close()

	if status := socket.GetStatus(); status != SocketStatusClosed {
		t.Fatalf("Expected closed status, but got %s", status)
	}

	if err := socket.send(context.Background(), SentPayload{Op: SocketOpHeartbeat}); err != ErrSocketClosed {
		t.Errorf("Expected ErrSocketClosed, but got %v", err)
	}
}

func TestSocketConcurrentClose(t *testing.T) {
	server := newSocketTestServer(t, 10)
	defer server.Close()

	socket, _ := newTestSocket(server.URL)

	if err := socket.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	server.nextFrame(t)

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			socket.Close()
		}()
	}

	wg.Wait()

	if status := socket.GetStatus(); status != SocketStatusClosed {
		t.Fatalf("Expected closed status, but got %s", status)
	}
}

func waitForStatus(t *testing.T, socket *Socket, expected SocketStatus) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		if socket.GetStatus() == expected {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("Timed out waiting for status %s, last was %s", expected, socket.GetStatus())
}

func waitForDocument(t *testing.T, doc *Document, content string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		var buffer bytes.Buffer

		if err := doc.Serialize(&buffer); err != nil {
			t.Fatal(err)
		}

		if strings.Contains(buffer.String(), content) {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("Timed out waiting for document to contain %q", content)
}
