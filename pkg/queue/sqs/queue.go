// Package sqs implements queue.Queue on Amazon SQS.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/queue"
)

// SQS limits.
const (
	maxWaitSeconds       = 20
	maxBatch             = 10
	maxVisibilitySeconds = 12 * 60 * 60
)

// API is the subset of the SQS client used by Queue.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Queue implements queue.Queue and queue.Sender for one SQS queue URL.
type Queue struct {
	client API
	url    string
	opts   queue.Options
}

var (
	_ queue.Queue  = (*Queue)(nil)
	_ queue.Sender = (*Queue)(nil)
)

// New creates a queue with a client built from awsCfg.
func New(awsCfg aws.Config, url string, opts queue.Options) (*Queue, error) {
	return NewWithClient(sqs.NewFromConfig(awsCfg), url, opts)
}

// NewWithClient creates a queue over an existing client.
func NewWithClient(client API, url string, opts queue.Options) (*Queue, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("sqs: queue url is required")
	}
	return &Queue{client: client, url: url, opts: opts.WithDefaults()}, nil
}

// Name returns the last path segment of the queue URL.
func (q *Queue) Name() string {
	if i := strings.LastIndex(q.url, "/"); i >= 0 {
		return q.url[i+1:]
	}
	return q.url
}

// Receive long-polls for up to MaxMessages messages.
func (q *Queue) Receive(ctx context.Context) ([]queue.Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.url),
		MaxNumberOfMessages:         clamp(q.opts.MaxMessages, 1, maxBatch),
		WaitTimeSeconds:             clamp(int(q.opts.WaitTime/time.Second), 0, maxWaitSeconds),
		VisibilityTimeout:           clamp(int(q.opts.VisibilityTimeout/time.Second), 0, maxVisibilitySeconds),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive %s: %w", q.Name(), err)
	}

	msgs := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		msgs = append(msgs, queue.Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			ReceiveCount:  count,
		})
	}
	return msgs, nil
}

// Delete acknowledges a message.
func (q *Queue) Delete(ctx context.Context, m queue.Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(m.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete %s: %w", m.ID, err)
	}
	return nil
}

// Release sets the message's visibility timeout to delay.
func (q *Queue) Release(ctx context.Context, m queue.Message, delay time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     aws.String(m.ReceiptHandle),
		VisibilityTimeout: clamp(int(delay/time.Second), 0, maxVisibilitySeconds),
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility %s: %w", m.ID, err)
	}
	return nil
}

// Send enqueues a raw body.
func (q *Queue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("sqs send %s: %w", q.Name(), err)
	}
	return nil
}

func clamp(v, lo, hi int) int32 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return int32(v)
}
