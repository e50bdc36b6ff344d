package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/domain/repository"
	"AlertGate/internal/service/ratelimit"
	apphttp "AlertGate/pkg/http"
	"AlertGate/pkg/logger"
)

var _ repository.Sink = (*WebhookSink)(nil)

// WebhookPayload is the JSON body posted to the webhook.
type WebhookPayload struct {
	Text     string    `json:"text"`
	Strategy string    `json:"strategy"`
	Tier     int       `json:"tier"`
	Kind     string    `json:"kind"`
	Count    int       `json:"count"`
	SentAt   time.Time `json:"sent_at"`
}

// WebhookSink posts notifications as JSON, paced by a token bucket.
type WebhookSink struct {
	name     string
	url      string
	client   *apphttp.Client
	limiter  *ratelimit.Limiter
	capacity float64
	perSec   float64
	log      *logger.Logger
}

type WebhookOption func(*WebhookSink)

func WithWebhookName(name string) WebhookOption { return func(s *WebhookSink) { s.name = name } }

// WithPacing allows burst messages at once, refilled at perSecond. perSecond <= 0 disables pacing.
func WithPacing(burst int, perSecond float64) WebhookOption {
	return func(s *WebhookSink) {
		s.capacity = float64(burst)
		s.perSec = perSecond
	}
}

func WithWebhookLogger(l *logger.Logger) WebhookOption { return func(s *WebhookSink) { s.log = l } }

func NewWebhookSink(url string, client *apphttp.Client, limiter *ratelimit.Limiter, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		name:     "webhook",
		url:      url,
		client:   client,
		limiter:  limiter,
		capacity: 5,
		perSec:   1,
		log:      logger.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *WebhookSink) Name() string { return s.name }

func (s *WebhookSink) Send(ctx context.Context, n models.Notification) error {
	if s.limiter != nil && s.perSec > 0 {
		if err := s.limiter.Wait(ctx, s.name, s.capacity, s.perSec); err != nil {
			return fmt.Errorf("%s pacing: %w", s.name, err)
		}
	}
	body := WebhookPayload{
		Text:     n.Text,
		Strategy: n.Strategy,
		Tier:     int(n.Tier),
		Kind:     string(n.Kind),
		Count:    len(n.EntryIDs),
		SentAt:   n.SentAt,
	}
	err := s.client.SendAndParse(ctx, &apphttp.RequestOptions{
		Method: apphttp.MethodPost,
		URL:    s.url,
		Body:   body,
	}, nil)
	if err != nil {
		var se *apphttp.StatusError
		if errors.As(err, &se) && !se.Temporary() {
			s.log.Warn("webhook rejected notification",
				logger.String("sink", s.name),
				logger.Int("status", se.Code),
				logger.String("body", se.Body))
		}
		return fmt.Errorf("%s: %w: %w", s.name, models.ErrDeliveryTransient, err)
	}
	return nil
}
