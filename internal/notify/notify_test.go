package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestWATIClientSend(t *testing.T) {
	var gotPath, gotText, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotText = r.URL.Query().Get("messageText")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewWATIClient(srv.URL+"/", "Bearer secret", time.Second)
	err := client.Send(context.Background(), Message{Channel: ChannelWhatsApp, To: "(416) 555-0199", Body: "Your OTP is 123456"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/api/v1/sendSessionMessage/14165550199" {
		t.Errorf("path = %s", gotPath)
	}
	if gotText != "Your OTP is 123456" {
		t.Errorf("text = %q", gotText)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth = %q", gotAuth)
	}
}

func TestWATIClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid number", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewWATIClient(srv.URL, "t", time.Second)
	if err := client.Send(context.Background(), Message{To: "919876543210", Body: "hi"}); err == nil {
		t.Fatalf("expected error on 400")
	}
}

type recordingSender struct{ sent []Message }

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

func TestDispatcherRouting(t *testing.T) {
	wa := &recordingSender{}
	n := NewDispatcher(map[Channel]Sender{ChannelWhatsApp: wa}, zaptest.NewLogger(t))

	if !n.Enabled(ChannelWhatsApp) || n.Enabled(ChannelEmail) {
		t.Fatalf("unexpected channel availability")
	}
	if err := n.Send(context.Background(), Message{Channel: ChannelWhatsApp, To: "1", Body: "x"}); err != nil {
		t.Fatal(err)
	}
	if len(wa.sent) != 1 {
		t.Fatalf("message not routed")
	}
	err := n.Send(context.Background(), Message{Channel: ChannelEmail, To: "a@b.c"})
	if !errors.Is(err, ErrChannelDisabled) {
		t.Fatalf("expected disabled channel error, got %v", err)
	}
	if err := n.Send(context.Background(), Message{Channel: ChannelWhatsApp}); err == nil {
		t.Fatalf("missing recipient should fail")
	}
}
