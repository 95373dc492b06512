// Package notify is the binding to the Notification Sink: fire-and-forget
// user events over Redis pub/sub plus email jobs on the worker queue.
// Delivery failures are logged and never block the primary write.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mentorbridge/backend/internal/models"
	"github.com/mentorbridge/backend/pkg/queue"
)

const (
	channelPrefix = "notify:user:"
	publishTTL    = 5 * time.Second

	EventStatusChanged = "facilitation_status_changed"
	EventFeedback      = "feedback_received"
	EventTier          = "recognition_updated"
)

// Event is the envelope published to a user's notification channel.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// Publisher delivers events to users' Redis channels and enqueues emails.
type Publisher struct {
	client *redis.Client
	queue  *queue.Queue
	logger *zap.Logger
}

// NewPublisher creates a notification publisher.
func NewPublisher(client *redis.Client, q *queue.Queue, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, queue: q, logger: logger}
}

// FacilitationStatusChanged notifies both parties of a lifecycle transition.
func (p *Publisher) FacilitationStatusChanged(ctx context.Context, f *models.FacilitationRequest) {
	payload := map[string]any{
		"facilitation_id": f.ID,
		"status":          f.Status,
	}
	p.publish(ctx, f.RequesterID, EventStatusChanged, payload)
	p.publish(ctx, f.TargetID, EventStatusChanged, payload)
	p.email(ctx, f.RequesterID, "Facilitation update",
		fmt.Sprintf("Your facilitation request is now %s.", f.Status))
}

// FeedbackReceived notifies the recipient of a new monthly feedback record.
func (p *Publisher) FeedbackReceived(ctx context.Context, fb *models.MonthlyFeedback) {
	p.publish(ctx, fb.RecipientID, EventFeedback, map[string]any{
		"feedback_id":     fb.ID,
		"facilitation_id": fb.FacilitationID,
		"month":           fb.FeedbackMonth,
		"rating":          fb.Rating,
	})
	p.email(ctx, fb.RecipientID, "New monthly feedback",
		fmt.Sprintf("You received feedback for %s.", fb.FeedbackMonth))
}

// TierUpdated notifies the student after a recognition re-evaluation.
func (p *Publisher) TierUpdated(ctx context.Context, rt *models.RecognitionTier) {
	p.publish(ctx, rt.StudentID, EventTier, map[string]any{
		"current_tier": rt.CurrentTier,
		"streak":       rt.ConsecutiveHighRatingMonths,
	})
}

// SubscribeUser subscribes to a user's notification channel and calls handler
// for each event. Returns a cancel function to stop the subscription.
func (p *Publisher) SubscribeUser(userID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error) {
	channel := channelPrefix + userID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := p.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					continue
				}
				handler(e.Event, e.Data)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}

func (p *Publisher) publish(ctx context.Context, userID uuid.UUID, event string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("notification payload", zap.Error(err))
		return
	}
	body, err := json.Marshal(Event{Event: event, Data: data, At: time.Now().Unix()})
	if err != nil {
		p.logger.Warn("notification envelope", zap.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTTL)
	defer cancel()
	if err := p.client.Publish(pubCtx, channelPrefix+userID.String(), body).Err(); err != nil {
		p.logger.Warn("notification publish failed",
			zap.String("user_id", userID.String()), zap.String("event", event), zap.Error(err))
	}
}

func (p *Publisher) email(ctx context.Context, userID uuid.UUID, subject, body string) {
	if p.queue == nil {
		return
	}
	err := p.queue.EnqueueEmail(ctx, queue.EmailPayload{
		UserID:  userID,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		p.logger.Warn("email enqueue failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}
