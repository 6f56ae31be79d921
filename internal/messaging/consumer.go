package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"example.com/fleetwatch/services/telemetry/config"
	"example.com/fleetwatch/services/telemetry/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/sirupsen/logrus"
)

// SampleHandler receives each validated device sample from the queue.
// Returning an error abandons the message back to the queue.
type SampleHandler interface {
	HandleSample(ctx context.Context, sample *models.DeviceSample) error
}

// SampleHandlerFunc adapts a function to the SampleHandler interface
type SampleHandlerFunc func(ctx context.Context, sample *models.DeviceSample) error

// HandleSample calls f(ctx, sample)
func (f SampleHandlerFunc) HandleSample(ctx context.Context, sample *models.DeviceSample) error {
	return f(ctx, sample)
}

// SampleConsumer consumes device samples from the ingestion queue. The
// ingestion collaborator publishes with the device UID as the session ID, so
// one session receiver sees one device's samples in arrival order.
type SampleConsumer struct {
	client    *azservicebus.Client
	queueName string
	handler   SampleHandler
	log       *logrus.Logger
}

// NewSampleConsumer creates a consumer for the sample queue. Returns nil
// with no error when no connection string is configured; the caller skips
// queue consumption in that case.
func NewSampleConsumer(cfg config.ServiceBusConfig, handler SampleHandler, log *logrus.Logger) (*SampleConsumer, error) {
	if cfg.ConnectionString == "" {
		return nil, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	return &SampleConsumer{
		client:    client,
		queueName: cfg.SampleQueueName,
		handler:   handler,
		log:       log,
	}, nil
}

// Run accepts sessions from the queue until the context is cancelled. Each
// session is drained on its own goroutine.
func (c *SampleConsumer) Run(ctx context.Context) error {
	c.log.Infof("Starting sample consumer for queue %s", c.queueName)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sessionReceiver, err := c.client.AcceptNextSessionForQueue(ctx, c.queueName, nil)
		if err != nil {
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				c.log.Debug("No session available, waiting...")
				time.Sleep(2 * time.Second)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to accept session: %w", err)
		}

		c.log.WithField("session", sessionReceiver.SessionID()).Debug("Session received")
		go c.handleSession(ctx, sessionReceiver)
	}
}

// handleSession drains one session. A sample that cannot be decoded is
// completed and dropped: malformed payloads are the ingestion collaborator's
// bug, and redelivery would just fail again. Handler errors abandon the
// message for redelivery.
func (c *SampleConsumer) handleSession(ctx context.Context, receiver *azservicebus.SessionReceiver) {
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			c.log.WithError(err).Warnf("Error closing session %s", receiver.SessionID())
		}
	}()

	for {
		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() == nil {
				c.log.WithError(err).Warnf("Error receiving from session %s", receiver.SessionID())
			}
			return
		}
		if len(messages) == 0 {
			return
		}

		for _, message := range messages {
			var sample models.DeviceSample
			if err := json.Unmarshal(message.Body, &sample); err != nil {
				c.log.WithError(err).Warn("Dropping undecodable sample")
				receiver.CompleteMessage(context.Background(), message, nil)
				continue
			}

			if err := c.handler.HandleSample(ctx, &sample); err != nil {
				c.log.WithError(err).Warnf("Failed to handle sample for device %s", sample.DeviceUID)
				if err := receiver.AbandonMessage(context.Background(), message, nil); err != nil {
					c.log.WithError(err).Warn("Failed to abandon message")
				}
				continue
			}

			if err := receiver.CompleteMessage(context.Background(), message, nil); err != nil {
				c.log.WithError(err).Warn("Failed to complete message")
			}
		}
	}
}

// Close shuts the consumer's Service Bus connection down
func (c *SampleConsumer) Close() error {
	return c.client.Close(context.Background())
}
