package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/cardmail/internal/domain"
)

// SESAPI is the subset of the SES v2 client the transport uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport sends through AWS SES v2.
type SESTransport struct {
	client           SESAPI
	configurationSet string
}

// NewSESTransport wraps an existing SES client.
func NewSESTransport(client SESAPI, configurationSet string) *SESTransport {
	return &SESTransport{client: client, configurationSet: configurationSet}
}

// NewSESTransportFromConfig builds the SES client. Static keys are used when
// both are set; otherwise the default AWS credential chain applies.
func NewSESTransportFromConfig(ctx context.Context, accessKey, secretKey, region, configurationSet string) (*SESTransport, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewSESTransport(sesv2.NewFromConfig(cfg), configurationSet), nil
}

// Name implements Transport.
func (s *SESTransport) Name() string { return "ses" }

// Send delivers msg and returns the SES message id.
func (s *SESTransport) Send(ctx context.Context, msg *domain.EmailMessage) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("SES client not initialized")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("email_type"), Value: aws.String(string(msg.Kind))},
		},
	}
	if msg.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
