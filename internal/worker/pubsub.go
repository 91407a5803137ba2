package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/aqfield/aqfield/internal/airquality"
	"github.com/aqfield/aqfield/internal/series"
)

// Job types carried by GridMessage.
const (
	JobTypeGridCompute = "grid_compute"
	JobTypeHealthCheck = "health_check"
)

// ErrMalformedMessage is returned for messages that cannot be decoded.
var ErrMalformedMessage = errors.New("malformed message")

// ErrUnknownJobType is returned for messages with an unsupported job type.
var ErrUnknownJobType = errors.New("unknown job type")

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GridMessage is a grid job request published to the worker subscription.
type GridMessage struct {
	JobType string `json:"job_type"`

	// City and Pollutants narrow the job. When City is empty every
	// configured target runs.
	City       string                 `json:"city,omitempty"`
	Pollutants []airquality.Pollutant `json:"pollutants,omitempty"`

	// Date is YYYY-MM-DD. Empty means today.
	Date string `json:"date,omitempty"`
}

// Handler processes grid job messages.
type Handler struct {
	job    *GridJob
	store  Pinger
	logger zerolog.Logger
}

// NewHandler creates a message handler.
func NewHandler(job *GridJob, store Pinger, logger zerolog.Logger) *Handler {
	return &Handler{job: job, store: store, logger: logger}
}

// Process handles one message payload. It returns ErrUnknownJobType for
// payloads that should be dropped rather than redelivered.
func (h *Handler) Process(ctx context.Context, data []byte) (*JobResult, error) {
	var msg GridMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch msg.JobType {
	case JobTypeGridCompute:
		return h.compute(ctx, msg)
	case JobTypeHealthCheck:
		return nil, h.healthCheck(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, msg.JobType)
	}
}

func (h *Handler) compute(ctx context.Context, msg GridMessage) (*JobResult, error) {
	date := time.Now()
	if msg.Date != "" {
		d, err := time.Parse(time.DateOnly, msg.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: date: %w", ErrMalformedMessage, err)
		}
		date = d
	}
	date = series.Day(date)

	tasks := h.job.Config().Tasks(date)
	if msg.City != "" {
		tasks = filterTasks(tasks, msg.City, msg.Pollutants)
		if len(tasks) == 0 {
			// Unconfigured city: compute the requested pollutants directly.
			for _, p := range msg.Pollutants {
				tasks = append(tasks, Task{City: msg.City, Pollutant: p, Date: date})
			}
		}
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no targets selected", ErrMalformedMessage)
	}

	h.logger.Info().
		Str("city", msg.City).
		Str("date", date.Format(time.DateOnly)).
		Int("tasks", len(tasks)).
		Msg("starting grid computation")

	result := h.job.RunTasks(ctx, tasks)

	// A job where most tasks failed is redelivered.
	if result.Failed > result.Successful+result.Skipped {
		return result, fmt.Errorf("too many grid failures: %d/%d", result.Failed, result.Total)
	}
	return result, nil
}

func (h *Handler) healthCheck(ctx context.Context) error {
	h.logger.Debug().Msg("running health check")

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	h.logger.Debug().Msg("health check passed")
	return nil
}

func filterTasks(tasks []Task, city string, pollutants []airquality.Pollutant) []Task {
	var out []Task
	for _, t := range tasks {
		if t.City != city {
			continue
		}
		if len(pollutants) > 0 && !containsPollutant(pollutants, t.Pollutant) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func containsPollutant(ps []airquality.Pollutant, p airquality.Pollutant) bool {
	for _, x := range ps {
		if x == p {
			return true
		}
	}
	return false
}

// PubSubHandler receives grid job messages from a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	handler          *Handler
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	MaxOutstanding   int
	Handler          *Handler
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	maxOutstanding := cfg.MaxOutstanding
	if maxOutstanding <= 0 {
		maxOutstanding = 10
	}
	subscriber.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		handler:          cfg.Handler,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, h.handleMessage)
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	start := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	_, err := h.handler.Process(ctx, msg.Data)
	switch {
	case errors.Is(err, ErrUnknownJobType):
		logger.Warn().Err(err).Msg("dropping message")
		msg.Ack()
		return
	case err != nil:
		logger.Error().Err(err).Msg("job failed")
		msg.Nack()
		return
	}

	logger.Info().
		Dur("duration", time.Since(start)).
		Msg("job completed successfully")
	msg.Ack()
}
