package emitter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/blast-orchestrator/internal/pkg/logger"
)

// SQSAPI is the slice of the SQS client the forwarder uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSForwarder ships events to an SQS queue for downstream analytics.
// Fire-and-forget: a publish failure is logged and never retried, the
// in-process hub remains the source of truth for live subscribers.
type SQSForwarder struct {
	client   SQSAPI
	queueURL string
}

// NewSQSForwarder creates a forwarder targeting queueURL.
func NewSQSForwarder(client SQSAPI, queueURL string) *SQSForwarder {
	return &SQSForwarder{client: client, queueURL: queueURL}
}

func (f *SQSForwarder) Publish(e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		logger.Error("marshal event for sqs", "error", err.Error())
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := f.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(f.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("publish event to sqs", "error", err.Error())
		}
	}()
}
