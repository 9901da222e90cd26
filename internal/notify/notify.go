// Package notify delivers customer messages over WhatsApp and email.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/config"
)

// Channel identifies a delivery medium.
type Channel string

// Supported channels.
const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// ErrChannelDisabled is returned when a channel has no credentials configured.
var ErrChannelDisabled = errors.New("notification channel not configured")

// Message is a single outbound notification.
type Message struct {
	Channel Channel
	To      string
	Subject string
	Body    string
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier dispatches messages to the sender registered for their channel.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
	Enabled(ch Channel) bool
}

// Module provides the Notifier to Fx.
var Module = fx.Provide(New)

type dispatcher struct {
	senders map[Channel]Sender
	logger  *zap.Logger
}

// New builds a notifier from the configured WhatsApp and SendGrid credentials.
func New(cfg config.Config, logger *zap.Logger) Notifier {
	senders := make(map[Channel]Sender, 2)
	if cfg.Notify.WATIBaseURL != "" && cfg.Notify.WATIToken != "" {
		senders[ChannelWhatsApp] = NewWATIClient(cfg.Notify.WATIBaseURL, cfg.Notify.WATIToken, cfg.Notify.Timeout)
	} else {
		logger.Info("whatsapp notifications disabled")
	}
	if cfg.Notify.SendGridAPIKey != "" && cfg.Notify.EmailFrom != "" {
		senders[ChannelEmail] = NewSendGridClient(cfg.Notify.SendGridAPIKey, cfg.Notify.EmailFrom, cfg.Notify.EmailFromName)
	} else {
		logger.Info("email notifications disabled")
	}
	return NewDispatcher(senders, logger)
}

// NewDispatcher builds a notifier over explicit senders.
func NewDispatcher(senders map[Channel]Sender, logger *zap.Logger) Notifier {
	return &dispatcher{senders: senders, logger: logger.Named("notify")}
}

func (d *dispatcher) Enabled(ch Channel) bool {
	_, ok := d.senders[ch]
	return ok
}

func (d *dispatcher) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("%s notification has no recipient", msg.Channel)
	}
	sender, ok := d.senders[msg.Channel]
	if !ok {
		return fmt.Errorf("%s: %w", msg.Channel, ErrChannelDisabled)
	}
	if err := sender.Send(ctx, msg); err != nil {
		d.logger.Warn("notification failed", zap.String("channel", string(msg.Channel)), zap.Error(err))
		return err
	}
	d.logger.Debug("notification sent", zap.String("channel", string(msg.Channel)))
	return nil
}
