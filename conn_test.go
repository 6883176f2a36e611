package websocket

import (
	"errors"
	"net"
	"testing"
	"time"
)

func newConnPair(t *testing.T) (server, client *Conn) {
	t.Helper()
	a, b := net.Pipe()
	server = NewConn(a, Config{Role: RoleServer})
	client = NewConn(b, Config{Role: RoleClient})
	t.Cleanup(func() {
		// net.Pipe has no buffering: close both raw ends first so the close
		// frames written below fail fast instead of waiting for a reader.
		a.Close()
		b.Close()
		server.Close()
		client.Close()
	})
	return server, client
}

func TestConnSendRecvText(t *testing.T) {
	server, client := newConnPair(t)

	done := make(chan error, 1)
	go func() { done <- client.Send(TextMessage("hello")) }()

	msg, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Type != MessageText || msg.Text != "hello" {
		t.Fatalf("got %+v, want text %q", msg, "hello")
	}
}

func TestConnSendRecvBinary(t *testing.T) {
	server, client := newConnPair(t)

	payload := []byte{1, 2, 3, 4, 5}
	done := make(chan error, 1)
	go func() { done <- server.Send(BinaryMessage(payload)) }()

	msg, err := client.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Type != MessageBinary || string(msg.Data) != string(payload) {
		t.Fatalf("got %+v, want binary %v", msg, payload)
	}
}

func TestConnFragmentedSend(t *testing.T) {
	server, client := newConnPair(t)
	client.cfg.FragmentSize = 4

	payload := []byte("a fairly long payload that needs several fragments")
	done := make(chan error, 1)
	go func() { done <- client.Send(BinaryMessage(payload)) }()

	msg, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(msg.Data) != string(payload) {
		t.Fatalf("got %q, want %q", msg.Data, payload)
	}
}

func TestConnPingReflex(t *testing.T) {
	server, client := newConnPair(t)

	done := make(chan error, 1)
	go func() { done <- client.Send(Message{Type: MessagePing, Data: []byte("ping-data")}) }()

	// The server writes the reflex pong before its Recv returns, and
	// net.Pipe has no buffering, so the client must already be reading.
	type recvResult struct {
		msg Message
		err error
	}
	pongDone := make(chan recvResult, 1)
	go func() {
		m, err := client.Recv()
		pongDone <- recvResult{m, err}
	}()

	msg, err := server.Recv()
	if err != nil {
		t.Fatalf("server Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("client Send: %v", err)
	}
	if msg.Type != MessagePing || string(msg.Data) != "ping-data" {
		t.Fatalf("got %+v, want ping %q", msg, "ping-data")
	}

	res := <-pongDone
	pong, err := res.msg, res.err
	if err != nil {
		t.Fatalf("client Recv (reflex pong): %v", err)
	}
	if pong.Type != MessagePong || string(pong.Data) != "ping-data" {
		t.Fatalf("got %+v, want pong echoing %q", pong, "ping-data")
	}
}

func TestConnCloseHandshake(t *testing.T) {
	server, client := newConnPair(t)

	done := make(chan error, 1)
	go func() { done <- client.CloseWithCode(CloseGoingAway, "bye") }()

	msg, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	<-done
	if msg.Type != MessageClose || msg.CloseCode != CloseGoingAway || msg.CloseReason != "bye" {
		t.Fatalf("got %+v, want close(1001, %q)", msg, "bye")
	}
	if server.State() != StateClosed {
		t.Fatalf("server state = %v, want closed", server.State())
	}
}

func TestConnRecvAfterCloseReturnsError(t *testing.T) {
	server, client := newConnPair(t)
	// Close blocks until the server reads the close frame (net.Pipe has no
	// buffering), so it runs concurrently with the server's Recv calls.
	go client.Close()
	time.Sleep(10 * time.Millisecond)

	// The peer's close frame itself comes back as a MessageClose; the
	// connection is closed once it has been handled.
	if msg, err := server.Recv(); err != nil || msg.Type != MessageClose {
		t.Fatalf("first Recv = (%+v, %v), want the peer's MessageClose", msg, err)
	}
	if _, err := server.Recv(); err == nil {
		t.Fatal("expected an error after the peer closed the connection")
	}
}

// TestConnRecvInvalidUTF8SendsCloseFrame is the Conn-level counterpart of
// spec.md §8.6: an invalid-UTF-8 text message must not just fail Recv
// locally, it must also put a Close(1007) frame on the wire before the
// stream is torn down, per spec.md §7.
func TestConnRecvInvalidUTF8SendsCloseFrame(t *testing.T) {
	server, client := newConnPair(t)

	sendDone := make(chan error, 1)
	go func() { sendDone <- client.Send(TextMessage("\xff\xfe")) }()

	recvDone := make(chan error, 1)
	go func() {
		_, err := server.Recv()
		recvDone <- err
	}()

	if err := <-sendDone; err != nil {
		t.Fatalf("client Send: %v", err)
	}

	msg, err := client.Recv()
	if err != nil {
		t.Fatalf("client Recv (close reply): %v", err)
	}
	if msg.Type != MessageClose || msg.CloseCode != CloseInvalidFramePayload {
		t.Fatalf("got %+v, want close(%d)", msg, CloseInvalidFramePayload)
	}

	recvErr := <-recvDone
	if recvErr == nil || !errors.Is(recvErr, ErrInvalidUTF8) {
		t.Fatalf("server Recv error = %v, want ErrInvalidUTF8", recvErr)
	}
	if server.State() != StateClosed {
		t.Fatalf("server state = %v, want closed", server.State())
	}
}

// TestConnRecvReservedOpcodeSendsProtocolErrorClose covers the generic
// (non-UTF8) branch of closeCodeForError: any other frame-level parse
// failure maps to Close(1002), not silence.
func TestConnRecvReservedOpcodeSendsProtocolErrorClose(t *testing.T) {
	server, client := newConnPair(t)

	// A reserved opcode (0x3) can't be produced through the public Send
	// API, so write raw frame bytes directly from the client side: the
	// 2-byte header FIN=1, opcode=0x3, masked, zero-length payload. The
	// server rejects the opcode from these two bytes without reading the
	// mask key, and net.Pipe has no buffering, so a write that also carried
	// the key would never complete.
	raw := []byte{0x83, 0x80}
	writeDone := make(chan error, 1)
	go func() {
		_, err := client.stream.Write(raw)
		writeDone <- err
	}()

	recvDone := make(chan error, 1)
	go func() {
		_, err := server.Recv()
		recvDone <- err
	}()

	if err := <-writeDone; err != nil {
		t.Fatalf("raw write: %v", err)
	}

	msg, err := client.Recv()
	if err != nil {
		t.Fatalf("client Recv (close reply): %v", err)
	}
	if msg.Type != MessageClose || msg.CloseCode != CloseProtocolError {
		t.Fatalf("got %+v, want close(%d)", msg, CloseProtocolError)
	}

	recvErr := <-recvDone
	if recvErr == nil {
		t.Fatal("server Recv: expected a reserved-opcode error")
	}
	if server.State() != StateClosed {
		t.Fatalf("server state = %v, want closed", server.State())
	}
}

func TestConnSendBatch(t *testing.T) {
	server, client := newConnPair(t)

	msgs := []Message{TextMessage("one"), TextMessage("two"), TextMessage("three")}
	done := make(chan error, 1)
	go func() { done <- client.SendBatch(msgs) }()

	for _, want := range msgs {
		got, err := server.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if got.Text != want.Text {
			t.Fatalf("got %q, want %q", got.Text, want.Text)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
}
