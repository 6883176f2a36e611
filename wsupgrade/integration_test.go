package wsupgrade

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ws "github.com/infinitete/wsrs"
)

func TestUpgradeAndDialRoundTrip(t *testing.T) {
	var serverConn *ws.Conn
	serverReady := make(chan struct{})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, Options{})
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		serverConn = conn
		close(serverReady)
	})

	srv := httptest.NewServer(handler)
	defer srv.Close()

	wsURL := "ws://" + strings.TrimPrefix(srv.URL, "http://")

	clientConn, err := Dial(wsURL, DialOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.Close()

	<-serverReady
	defer serverConn.Close()

	done := make(chan error, 1)
	go func() { done <- clientConn.Send(ws.TextMessage("hello over the wire")) }()

	msg, err := serverConn.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Text != "hello over the wire" {
		t.Fatalf("got %q, want %q", msg.Text, "hello over the wire")
	}
}

func TestUpgradeRejectsNonGet(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := Upgrade(w, r, Options{}); err != ErrInvalidMethod {
			t.Errorf("got err %v, want ErrInvalidMethod", err)
		}
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL, "text/plain", nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}
