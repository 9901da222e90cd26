package order

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satguru/tiffin/internal/messaging"
	"github.com/satguru/tiffin/internal/notify"
	ordersvc "github.com/satguru/tiffin/internal/service/order"
)

type recordingNotifier struct {
	sent    []notify.Message
	enabled bool
	err     error
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) Enabled(ch notify.Channel) bool {
	return n.enabled && ch == notify.ChannelWhatsApp
}

func message(t *testing.T, header string, event ordersvc.OrderEvent) messaging.Message {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	return messaging.Message{
		Topic:   "orders",
		Value:   payload,
		Headers: map[string]string{messaging.HeaderEventType: header},
	}
}

func TestHandlerSendsNotices(t *testing.T) {
	cases := []struct {
		event    string
		dates    []string
		want     string
		wantSent bool
	}{
		{event: ordersvc.EventOrderCreated, want: "order TF-1 has been received", wantSent: true},
		{event: ordersvc.EventOrderPaused, dates: []string{"2024-06-11", "2024-06-12"}, want: "paused for: 2024-06-11, 2024-06-12", wantSent: true},
		{event: ordersvc.EventOrderResumed, want: "have resumed", wantSent: true},
		{event: ordersvc.EventPauseScheduled},
		{event: ordersvc.EventOrderCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.event, func(t *testing.T) {
			n := &recordingNotifier{enabled: true}
			h := NewHandler(n, "Satguru Tiffin", zaptest.NewLogger(t))
			msg := message(t, tc.event, ordersvc.OrderEvent{ID: 1, Number: "TF-1", CustomerName: "Asha", Phone: "4165550100", Dates: tc.dates})

			if err := h(context.Background(), msg); err != nil {
				t.Fatal(err)
			}
			if !tc.wantSent {
				if len(n.sent) != 0 {
					t.Fatalf("unexpected notice %+v", n.sent)
				}
				return
			}
			if len(n.sent) != 1 || n.sent[0].To != "4165550100" || !strings.Contains(n.sent[0].Body, tc.want) {
				t.Fatalf("sent = %+v", n.sent)
			}
		})
	}
}

func TestHandlerSkipsAndTolerates(t *testing.T) {
	ctx := context.Background()

	disabled := &recordingNotifier{}
	h := NewHandler(disabled, "Satguru Tiffin", zaptest.NewLogger(t))
	if err := h(ctx, message(t, ordersvc.EventOrderCreated, ordersvc.OrderEvent{ID: 1, Phone: "4165550100"})); err != nil || len(disabled.sent) != 0 {
		t.Fatalf("disabled channel: err=%v sent=%d", err, len(disabled.sent))
	}

	failing := &recordingNotifier{enabled: true, err: errors.New("wati down")}
	h = NewHandler(failing, "Satguru Tiffin", zaptest.NewLogger(t))
	if err := h(ctx, message(t, ordersvc.EventOrderResumed, ordersvc.OrderEvent{ID: 1, Phone: "4165550100"})); err != nil {
		t.Fatalf("delivery failure surfaced: %v", err)
	}

	if err := h(ctx, messaging.Message{Value: []byte("not json")}); err == nil {
		t.Fatalf("malformed payload accepted")
	}
}
