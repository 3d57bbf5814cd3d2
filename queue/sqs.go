package queue

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/tozny/localqueue/logging"
)

// SQSConfig wraps configuration for an SQS backed Service
type SQSConfig struct {
	SQSEndpoint  string         // Which SQS service endpoint to use, empty for the AWS default
	SQSRegion    string         // Which AWS region the queues are located in e.g. us-west-2
	APIKeyID     string         // AWS API Secret Key ID for IAM user with sqs permissions
	APIKeySecret string         // AWS API Secret Key for IAM user with sqs permissions
	Logger       logging.Logger // Logger to use for queue trace logs
}

// SQSService implements Service by delegating every call to AWS SQS.
// Visibility timeouts and redelivery are enforced by SQS itself.
type SQSService struct {
	sqsClient sqsiface.SQSAPI
	logger    logging.Logger

	mu   sync.RWMutex
	urls map[string]string
}

// NewSQSService creates an SQS client from config, returning a Service wrapping it
// and error (if any).
func NewSQSService(config SQSConfig) (*SQSService, error) {
	awsConfig := aws.Config{
		Region: aws.String(config.SQSRegion),
	}
	if config.APIKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.APIKeyID,
			config.APIKeySecret,
			"" /*AWS_SESSION_TOKEN*/)
	}
	if config.SQSEndpoint != "" {
		awsConfig.Endpoint = aws.String(config.SQSEndpoint)
	}
	awsSession, err := session.NewSession(&awsConfig)
	if err != nil {
		return nil, err
	}
	return NewSQSServiceFromClient(sqs.New(awsSession), config.Logger), nil
}

// NewSQSServiceFromClient wraps an existing SQS client.
func NewSQSServiceFromClient(client sqsiface.SQSAPI, logger logging.Logger) *SQSService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SQSService{sqsClient: client, logger: logger, urls: map[string]string{}}
}

// translateError maps SQS errors onto the errors of this package.
func translateError(err error) error {
	var awsErr awserr.Error
	if errors.As(err, &awsErr) && awsErr.Code() == sqs.ErrCodeQueueDoesNotExist {
		return fmt.Errorf("%w: %s", ErrorQueueNotFound, awsErr.Message())
	}
	return err
}

// queueURL resolves and caches the url of the named queue.
func (s *SQSService) queueURL(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	url, ok := s.urls[name]
	s.mu.RUnlock()
	if ok {
		return url, nil
	}
	resp, err := s.sqsClient.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", translateError(err)
	}
	s.mu.Lock()
	s.urls[name] = aws.StringValue(resp.QueueUrl)
	s.mu.Unlock()
	return aws.StringValue(resp.QueueUrl), nil
}

// CreateQueue idempotently creates the named SQS queue.
func (s *SQSService) CreateQueue(ctx context.Context, name string, visibilityTimeout time.Duration) (string, error) {
	if name == "" {
		return "", ErrorInvalidQueueName
	}
	input := &sqs.CreateQueueInput{QueueName: aws.String(name)}
	if visibilityTimeout > 0 {
		input.Attributes = map[string]*string{
			sqs.QueueAttributeNameVisibilityTimeout: aws.String(strconv.FormatInt(sqsSeconds(visibilityTimeout), 10)),
		}
	}
	resp, err := s.sqsClient.CreateQueueWithContext(ctx, input)
	if err != nil {
		s.logger.Errorf("CreateQueue: error %s creating queue %s", err, name)
		return "", err
	}
	s.mu.Lock()
	s.urls[name] = aws.StringValue(resp.QueueUrl)
	s.mu.Unlock()
	return name, nil
}

// Send enqueues body to the named queue.
func (s *SQSService) Send(ctx context.Context, name string, body []byte) error {
	url, err := s.queueURL(ctx, name)
	if err != nil {
		return err
	}
	_, err = s.sqsClient.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		MessageBody: aws.String(string(body)),
		QueueUrl:    aws.String(url),
	})
	return translateError(err)
}

// Receive dequeues at most one message without waiting, returning nil if none is visible.
func (s *SQSService) Receive(ctx context.Context, name string) (*Message, error) {
	url, err := s.queueURL(ctx, name)
	if err != nil {
		return nil, err
	}
	resp, err := s.sqsClient.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: aws.Int64(1),
		WaitTimeSeconds:     aws.Int64(0),
	})
	if err != nil {
		return nil, translateError(err)
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	received := resp.Messages[0]
	return &Message{
		ID:            aws.StringValue(received.MessageId),
		ReceiptHandle: aws.StringValue(received.ReceiptHandle),
		Body:          []byte(aws.StringValue(received.Body)),
	}, nil
}

// Delete deletes the delivery identified by receiptHandle. Handles SQS rejects as
// invalid return false.
func (s *SQSService) Delete(ctx context.Context, name, receiptHandle string) (bool, error) {
	url, err := s.queueURL(ctx, name)
	if err != nil {
		return false, err
	}
	_, err = s.sqsClient.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	var awsErr awserr.Error
	if errors.As(err, &awsErr) && (awsErr.Code() == sqs.ErrCodeReceiptHandleIsInvalid ||
		awsErr.Code() == sqs.ErrCodeInvalidIdFormat) {
		s.logger.Debugf("Delete: receipt handle %s rejected by %s", receiptHandle, name)
		return false, nil
	}
	if err != nil {
		return false, translateError(err)
	}
	return true, nil
}

// ChangeVisibility sets how much longer the delivery identified by receiptHandle stays
// hidden. Handles SQS rejects as invalid return false.
func (s *SQSService) ChangeVisibility(ctx context.Context, name, receiptHandle string, timeout time.Duration) (bool, error) {
	url, err := s.queueURL(ctx, name)
	if err != nil {
		return false, err
	}
	_, err = s.sqsClient.ChangeMessageVisibilityWithContext(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: aws.Int64(sqsSeconds(timeout)),
	})
	var awsErr awserr.Error
	if errors.As(err, &awsErr) && (awsErr.Code() == sqs.ErrCodeReceiptHandleIsInvalid ||
		awsErr.Code() == sqs.ErrCodeMessageNotInflight) {
		return false, nil
	}
	if err != nil {
		return false, translateError(err)
	}
	return true, nil
}

// QueueLength returns the approximate number of visible messages SQS reports.
func (s *SQSService) QueueLength(ctx context.Context, name string) (int, error) {
	url, err := s.queueURL(ctx, name)
	if err != nil {
		return 0, err
	}
	resp, err := s.sqsClient.GetQueueAttributesWithContext(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []*string{aws.String(sqs.QueueAttributeNameApproximateNumberOfMessages)},
	})
	if err != nil {
		return 0, translateError(err)
	}
	count, ok := resp.Attributes[sqs.QueueAttributeNameApproximateNumberOfMessages]
	if !ok {
		return 0, nil
	}
	return strconv.Atoi(aws.StringValue(count))
}

// ListQueues returns the names of the queues visible to the configured credentials.
func (s *SQSService) ListQueues(ctx context.Context) ([]string, error) {
	var names []string
	err := s.sqsClient.ListQueuesPagesWithContext(ctx, &sqs.ListQueuesInput{},
		func(page *sqs.ListQueuesOutput, lastPage bool) bool {
			for _, url := range page.QueueUrls {
				names = append(names, path.Base(aws.StringValue(url)))
			}
			return true
		})
	return names, err
}

// DeleteQueue deletes the named queue, returning false if it does not exist.
func (s *SQSService) DeleteQueue(ctx context.Context, name string) (bool, error) {
	url, err := s.queueURL(ctx, name)
	if errors.Is(err, ErrorQueueNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := s.sqsClient.DeleteQueueWithContext(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(url)}); err != nil {
		return false, translateError(err)
	}
	s.mu.Lock()
	delete(s.urls, name)
	s.mu.Unlock()
	return true, nil
}

// sqsSeconds rounds d up to the whole seconds SQS accepts, so a positive timeout
// never becomes zero.
func sqsSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
