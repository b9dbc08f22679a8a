package wsserver

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/streamcore/streamcore/internal/contextpool"
	"github.com/streamcore/streamcore/internal/courier"
	"github.com/streamcore/streamcore/internal/session"
	"github.com/streamcore/streamcore/internal/transcribe"
	"github.com/streamcore/streamcore/internal/vad"
)

func newTestServer(t *testing.T, n int, authToken string) (*httptest.Server, *session.Registry) {
	t.Helper()
	pool, err := contextpool.New(context.Background(), transcribe.NewMemoryTranscriber(), n, "unused", transcribe.Options{})
	if err != nil {
		t.Fatalf("contextpool.New: %v", err)
	}
	reg := session.NewRegistry(pool, 16000, 30, vad.DefaultConfig())
	srv := New(reg, "test-model", n, authToken)
	c := courier.New(reg, srv)
	srv.SetCourier(c)
	return httptest.NewServer(srv.Handler()), reg
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func TestHandshakeSendsReadyFrame(t *testing.T) {
	ts, _ := newTestServer(t, 1, "")
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal ready frame: %v", err)
	}
	if frame["type"] != "ready" {
		t.Fatalf("expected ready frame, got %v", frame)
	}
	if frame["model"] != "test-model" {
		t.Fatalf("expected model name in ready frame, got %v", frame)
	}
}

func TestAdmissionRejectedWhenPoolExhausted(t *testing.T) {
	ts, _ := newTestServer(t, 1, "")
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, _, err := websocket.Dial(ctx, wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("first Dial: %v", err)
	}
	defer first.Close(websocket.StatusNormalClosure, "")
	if _, _, err := first.Read(ctx); err != nil {
		t.Fatalf("first ready read: %v", err)
	}

	second, _, err := websocket.Dial(ctx, wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("second Dial: %v", err)
	}
	defer second.Close(websocket.StatusNormalClosure, "")

	_, data, err := second.Read(ctx)
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal error frame: %v", err)
	}
	if frame["type"] != "error" {
		t.Fatalf("expected error frame for exhausted pool, got %v", frame)
	}
	if frame["message"] != "No available contexts, try again later" {
		t.Fatalf("unexpected error message: %v", frame)
	}
}

func TestAuthTokenMismatchRejectsUpgrade(t *testing.T) {
	ts, _ := newTestServer(t, 1, "secret")
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(ts.URL), nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp != nil && resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuthTokenMatchAllowsUpgrade(t *testing.T) {
	ts, _ := newTestServer(t, 1, "secret")
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts.URL)+"?token=secret", nil)
	if err != nil {
		t.Fatalf("Dial with matching token: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Read ready frame: %v", err)
	}
}

func TestBinaryFrameFeedsAudioRing(t *testing.T) {
	ts, reg := newTestServer(t, 1, "")
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("read ready frame: %v", err)
	}

	samples := make([]byte, 320*2)
	for i := 0; i < 320; i++ {
		binary.LittleEndian.PutUint16(samples[i*2:], uint16(1000))
	}
	if err := conn.Write(ctx, websocket.MessageBinary, samples); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		active := reg.SnapshotActive()
		if len(active) == 1 && active[0].Audio.Size() == 320 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected 320 samples to reach the session's audio ring")
}
