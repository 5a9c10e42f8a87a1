package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/noah-isme/sma-points-api/internal/models"
)

// SQSAPI is the subset of the SQS client used by the dead-letter publisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDeadLetterPublisher sends dead letters to an SQS queue.
type SQSDeadLetterPublisher struct {
	client   SQSAPI
	queueURL string
}

// NewSQSDeadLetterPublisher constructs the publisher.
func NewSQSDeadLetterPublisher(client SQSAPI, queueURL string) *SQSDeadLetterPublisher {
	return &SQSDeadLetterPublisher{client: client, queueURL: queueURL}
}

// Create publishes the dead letter as a JSON message.
func (p *SQSDeadLetterPublisher) Create(ctx context.Context, letter *models.DeadLetter) error {
	prepareDeadLetter(letter)
	body, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"collaborator": {DataType: aws.String("String"), StringValue: aws.String(letter.Collaborator)},
			"source":       {DataType: aws.String("String"), StringValue: aws.String(string(letter.Source))},
		},
	})
	if err != nil {
		return fmt.Errorf("send dead letter to sqs: %w", err)
	}
	return nil
}
