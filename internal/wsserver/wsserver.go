// Package wsserver is the websocket transport: it upgrades incoming HTTP
// connections, admits or rejects them against the session registry,
// decodes binary PCM frames onto each session's audio ring, and runs the
// per-connection write pump that the courier dispatches flush tasks onto.
package wsserver

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/streamcore/streamcore/internal/courier"
	"github.com/streamcore/streamcore/internal/errors"
	"github.com/streamcore/streamcore/internal/session"
	"github.com/streamcore/streamcore/internal/trace"
)

// Server upgrades connections at /ws, admits sessions through registry,
// and bridges them to the courier as an IoBridge.
type Server struct {
	registry  *session.Registry
	courier   *courier.Courier
	authToken string
	modelName string
	contexts  int

	mu    sync.Mutex
	conns map[string]*connHandle
}

// New creates a Server. authToken empty disables the token check. The
// courier is wired in afterward via SetCourier, since the courier's own
// constructor needs this Server as its IoBridge.
func New(registry *session.Registry, modelName string, contexts int, authToken string) *Server {
	return &Server{
		registry:  registry,
		authToken: authToken,
		modelName: modelName,
		contexts:  contexts,
		conns:     make(map[string]*connHandle),
	}
}

// SetCourier attaches the courier this server flushes inbound-triggered
// drains through. Must be called before Handler starts serving requests.
func (s *Server) SetCourier(c *courier.Courier) {
	s.courier = c
}

// Handler returns the mux serving the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return trace.Middleware(mux)
}

// Defer implements courier.IoBridge: it posts task onto the write pump
// goroutine owning sessionID's connection, or drops it if the connection
// has already closed.
func (s *Server) Defer(sessionID string, task func()) {
	s.mu.Lock()
	h := s.conns[sessionID]
	s.mu.Unlock()
	if h == nil {
		return
	}
	select {
	case h.tasks <- task:
	case <-h.done:
	}
}

// connHandle is a session's IoHandle. conn.Write is called from the write
// pump goroutine started for this handle (courier flush tasks) and from
// the connection's read-loop goroutine (the ready frame and FlushNow
// drains).
type connHandle struct {
	conn  *websocket.Conn
	tasks chan func()
	done  chan struct{}
}

func (h *connHandle) SendText(text string) error {
	return h.conn.Write(context.Background(), websocket.MessageText, []byte(text))
}

func (s *Server) registerConn(id string, h *connHandle) {
	s.mu.Lock()
	s.conns[id] = h
	s.mu.Unlock()
}

func (s *Server) unregisterConn(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) writePump(h *connHandle) {
	for {
		select {
		case task := <-h.tasks:
			task()
		case <-h.done:
			return
		}
	}
}

type readyFrame struct {
	Type     string `json:"type"`
	Model    string `json:"model"`
	Contexts int    `json:"contexts"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.authToken != "" && r.URL.Query().Get("token") != s.authToken {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	log := trace.Logger(ctx)

	sess, err := s.registry.Create()
	if err != nil {
		msg := "internal error"
		if errors.IsCode(err, errors.PoolExhausted) {
			msg = "No available contexts, try again later"
		}
		_ = writeJSON(ctx, conn, errorFrame{Type: "error", Message: msg})
		_ = conn.Close(websocket.StatusPolicyViolation, msg)
		return
	}

	handle := &connHandle{conn: conn, tasks: make(chan func(), 16), done: make(chan struct{})}
	s.registerConn(sess.ID, handle)
	sess.SetIoHandle(handle)
	go s.writePump(handle)

	defer func() {
		close(handle.done)
		s.unregisterConn(sess.ID)
		s.registry.Destroy(sess.ID)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	log.Info("session admitted", "session_id", sess.ID, "remote", r.RemoteAddr)

	if err := writeJSON(ctx, conn, readyFrame{Type: "ready", Model: s.modelName, Contexts: s.contexts}); err != nil {
		log.Warn("failed to write ready frame", "session_id", sess.ID, "error", err)
		return
	}

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug("websocket read ended", "session_id", sess.ID, "error", err)
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			sess.Audio.PushPCM16(decodePCM16LE(data))
		case websocket.MessageText:
			log.Debug("ignoring text control frame", "session_id", sess.ID)
		}

		// Belt-and-suspenders: attempt a synchronous drain after every
		// inbound message, so anything already queued goes out without
		// waiting on a courier-scheduled flush task. A client that stops
		// sending gets no drain from here; its frames arrive through the
		// courier only.
		s.courier.FlushNow(sess.ID)
	}
}

// decodePCM16LE reinterprets data as little-endian 16-bit signed PCM
// samples. A trailing odd byte is discarded.
func decodePCM16LE(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return out
}
