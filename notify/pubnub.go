// Package notify carries realtime messages over PubNub: gateway status
// callbacks coming in, ticket notices going out.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"

	"github.com/iGETsense/Devil-POOl-sub000/internal/services"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	pubnub "github.com/pubnub/go/v7"
)

type Config struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	CipherKey    string
	UserID       string
}

func NewClient(cfg Config) *pubnub.PubNub {
	userID := cfg.UserID
	if userID == "" {
		userID = "ticket-reconciler"
	}
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey
	pnCfg.CipherKey = cfg.CipherKey
	return pubnub.NewPubNub(pnCfg)
}

type ticketRef struct {
	ID       string          `json:"id"`
	FullName string          `json:"fullName"`
	PassType models.PassType `json:"passType"`
	QRCode   string          `json:"qrCode"`
}

type ticketNotice struct {
	Type    string      `json:"type"`
	Tickets []ticketRef `json:"tickets"`
}

// Publisher tells the payer's devices that their tickets are ready.
type Publisher struct {
	prefix string
	send   func(channel string, msg any) error
}

func NewPublisher(pn *pubnub.PubNub, prefix string) *Publisher {
	if prefix == "" {
		prefix = "tickets-"
	}
	return &Publisher{
		prefix: prefix,
		send: func(channel string, msg any) error {
			_, _, err := pn.Publish().Channel(channel).Message(msg).Execute()
			return err
		},
	}
}

func (p *Publisher) TicketsIssued(_ context.Context, phone string, bookings []*models.Booking) error {
	notice := ticketNotice{Type: "tickets_issued"}
	for _, b := range bookings {
		notice.Tickets = append(notice.Tickets, ticketRef{ID: b.ID, FullName: b.FullName, PassType: b.PassType, QRCode: b.QRCode})
	}
	if err := p.send(p.prefix+phone, notice); err != nil {
		return fmt.Errorf("publish tickets to %s: %w", phone, err)
	}
	return nil
}

// WebhookSink is what a decoded gateway callback is handed to.
type WebhookSink interface {
	HandleWebhook(ctx context.Context, payload services.WebhookPayload, raw json.RawMessage) (*services.Settlement, error)
}

// Subscriber feeds gateway callbacks delivered over PubNub into the same
// settlement path as the HTTP webhook.
type Subscriber struct {
	pn      *pubnub.PubNub
	channel string
	sink    WebhookSink
}

func NewSubscriber(pn *pubnub.PubNub, channel string, sink WebhookSink) *Subscriber {
	return &Subscriber{pn: pn, channel: channel, sink: sink}
}

// Run listens until ctx is done.
func (s *Subscriber) Run(ctx context.Context) {
	listener := pubnub.NewListener()
	s.pn.AddListener(listener)
	s.pn.Subscribe().Channels([]string{s.channel}).Execute()
	defer func() {
		s.pn.Unsubscribe().Channels([]string{s.channel}).Execute()
		s.pn.RemoveListener(listener)
	}()

	for {
		select {
		case st := <-listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Printf("connected to pubnub channel %s", s.channel)
			case pubnub.PNReconnectedCategory:
				log.Printf("reconnected to pubnub channel %s", s.channel)
			case pubnub.PNDisconnectedCategory, pubnub.PNReconnectionAttemptsExhausted:
				slog.Warn("pubnub disconnected", "channel", s.channel, "category", st.Category)
			case pubnub.PNAccessDeniedCategory, pubnub.PNBadRequestCategory:
				slog.Error("pubnub subscription refused", "channel", s.channel, "category", st.Category)
			}

		case msg := <-listener.Message:
			s.handle(ctx, msg.Message)

		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, message any) {
	raw, err := decodeMessage(message)
	if err != nil {
		slog.Error("Subscriber.handle() decode", "channel", s.channel, "error", err)
		return
	}

	var payload services.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		slog.Error("Subscriber.handle() unmarshal", "channel", s.channel, "error", err)
		return
	}

	settlement, err := s.sink.HandleWebhook(ctx, payload, raw)
	if err != nil {
		slog.Error("Subscriber.handle() settle", "providerTxId", payload.ProviderTxID, "error", err)
		return
	}
	slog.Info("pubnub callback settled", "providerTxId", payload.ProviderTxID, "result", settlement.Result)
}

// decodeMessage accepts both string-encoded and structured message bodies.
func decodeMessage(message any) (json.RawMessage, error) {
	switch m := message.(type) {
	case nil:
		return nil, fmt.Errorf("empty message")
	case string:
		return json.RawMessage(m), nil
	case []byte:
		return json.RawMessage(m), nil
	default:
		return json.Marshal(m)
	}
}
