// internal/common/aws/ses.go
package aws

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailSender is the part of the SES client used to send mail.
type EmailSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func NewSESClient(ctx context.Context, region string) (*ses.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return ses.NewFromConfig(cfg), nil
}

// Email is a plain text message with an optional HTML alternative.
type Email struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Input builds the SES request for e.
func (e Email) Input() *ses.SendEmailInput {
	body := &types.Body{Text: &types.Content{Data: awssdk.String(e.Text), Charset: awssdk.String("UTF-8")}}
	if e.HTML != "" {
		body.Html = &types.Content{Data: awssdk.String(e.HTML), Charset: awssdk.String("UTF-8")}
	}

	return &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{e.To}},
		Message: &types.Message{
			Subject: &types.Content{Data: awssdk.String(e.Subject), Charset: awssdk.String("UTF-8")},
			Body:    body,
		},
		Source: awssdk.String(e.From),
	}
}

// SendEmail sends e and returns the SES message id.
func SendEmail(ctx context.Context, sender EmailSender, e Email) (string, error) {
	out, err := sender.SendEmail(ctx, e.Input())
	if err != nil {
		return "", err
	}
	return awssdk.ToString(out.MessageId), nil
}
