// Package sns implements notify.Publisher on Amazon SNS.
package sns

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/message"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/notify"
)

// API is the subset of the SNS client used by Publisher.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher implements notify.Publisher. Topics are ARNs.
type Publisher struct {
	client API
}

var _ notify.Publisher = (*Publisher)(nil)

// New creates a publisher with a client built from awsCfg.
func New(awsCfg aws.Config) *Publisher {
	return NewWithClient(sns.NewFromConfig(awsCfg))
}

// NewWithClient creates a publisher over an existing client.
func NewWithClient(client API) *Publisher {
	return &Publisher{client: client}
}

// Publish sends payload to the topic ARN with the event attribute set.
func (p *Publisher) Publish(ctx context.Context, topic, event string, payload any) error {
	data, err := notify.Marshal(payload)
	if err != nil {
		return err
	}
	in := &sns.PublishInput{
		TopicArn: aws.String(topic),
		Message:  aws.String(string(data)),
	}
	if event != "" {
		in.MessageAttributes = map[string]types.MessageAttributeValue{
			message.EventAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(event),
			},
		}
	}
	if _, err := p.client.Publish(ctx, in); err != nil {
		return fmt.Errorf("sns publish %s to %s: %w", event, topic, err)
	}
	return nil
}
