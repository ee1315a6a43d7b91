package notifynominations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "nomination-workers/internal/common/errors"
	"nomination-workers/internal/common/logger"
	"nomination-workers/internal/models"
	"nomination-workers/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

type fakeOutputs struct {
	sets map[string]models.RecordSet
}

func (f *fakeOutputs) LoadOutput(_ context.Context, runID, output string) (models.RecordSet, error) {
	set, ok := f.sets[runID+"/"+output]
	if !ok {
		return models.RecordSet{}, apperrors.NewRunNotFoundError(runID, output)
	}
	return set, nil
}

// sentMessages records what the mocks were asked to deliver.
type sentMessages struct {
	mu     sync.Mutex
	emails map[string]string
	sms    map[string]string
}

func newSentMessages() *sentMessages {
	return &sentMessages{emails: map[string]string{}, sms: map[string]string{}}
}

func (s *sentMessages) sesMock(err error) *MockSESService {
	return &MockSESService{
		SendEmailFunc: func(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			if err != nil {
				return nil, err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.emails[params.Destination.ToAddresses[0]] = aws.ToString(params.Message.Body.Text.Data)
			return &ses.SendEmailOutput{MessageId: aws.String(uuid.New().String())}, nil
		},
	}
}

func (s *sentMessages) snsMock(err error) *MockSNSService {
	return &MockSNSService{
		PublishFunc: func(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			if err != nil {
				return nil, err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.sms[aws.ToString(params.PhoneNumber)] = aws.ToString(params.Message)
			return &sns.PublishOutput{MessageId: aws.String("sms-1")}, nil
		},
	}
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		Enabled:           true,
		MaxJobsActive:     1,
		Timeout:           30 * time.Second,
		EmailEnabled:      true,
		FromEmail:         "nominations@example.org",
		Subject:           "Exchange nomination result",
		SMSEnabled:        true,
		SenderID:          "NOMINATE",
		ApplicationSchema: map[string]string{"phone": "Telefon"},
	}
}

func createTestOutputs() *fakeOutputs {
	columns := []string{"Číslo UK", "ID code", "NOMINOVÁN", "E-mail", "Telefon"}
	return &fakeOutputs{sets: map[string]models.RecordSet{
		"run-1/" + store.OutputWorking: models.NewRecordSet(columns,
			models.Row{"Číslo UK": "S1", "ID code": "X1", "NOMINOVÁN": "ANO", "E-mail": "s1@example.org", "Telefon": "+420111222333"},
			models.Row{"Číslo UK": "S1", "ID code": "X2", "NOMINOVÁN": "NE", "E-mail": "s1@example.org", "Telefon": "+420111222333"},
			models.Row{"Číslo UK": "S2", "ID code": "X1", "NOMINOVÁN": "NE", "E-mail": "s2@example.org", "Telefon": ""},
			models.Row{"Číslo UK": "S3", "ID code": "X3", "NOMINOVÁN": "ANO", "E-mail": "", "Telefon": ""}),
	}}
}

func newTestHandler(t *testing.T, cfg *Config, sent *sentMessages, sesErr, snsErr error) *Handler {
	h, err := NewHandler(cfg, Dependencies{
		Outputs: createTestOutputs(),
		Email:   sent.sesMock(sesErr),
		SMS:     sent.snsMock(snsErr),
		Logger:  logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	return h
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	sent := newSentMessages()
	h := newTestHandler(t, createTestConfig(), sent, nil, nil)

	output, err := h.Execute(context.Background(), &Input{RunID: "run-1"})

	require.NoError(t, err)
	assert.Equal(t, "run-1", output.RunID)
	assert.NotEmpty(t, output.NotificationID)
	assert.Equal(t, 3, output.Students)
	assert.Equal(t, 2, output.EmailsSent)
	assert.Equal(t, 1, output.SMSSent)
	assert.Equal(t, 1, output.Skipped)
	assert.Zero(t, output.Failed)

	assert.Contains(t, sent.emails["s1@example.org"], "nominated for X1.")
	assert.NotContains(t, sent.emails["s1@example.org"], "X2")
	assert.Contains(t, sent.emails["s2@example.org"], "not been nominated")
	assert.Contains(t, sent.sms["+420111222333"], "nominated for X1.")
}

func TestHandler_Execute_ChannelsDisabled(t *testing.T) {
	cfg := createTestConfig()
	cfg.EmailEnabled = false
	sent := newSentMessages()
	h := newTestHandler(t, cfg, sent, nil, nil)

	output, err := h.Execute(context.Background(), &Input{RunID: "run-1"})

	require.NoError(t, err)
	assert.Zero(t, output.EmailsSent)
	assert.Equal(t, 1, output.SMSSent)
	assert.Equal(t, 2, output.Skipped)
	assert.Empty(t, sent.emails)
}

func TestHandler_Execute_PhoneUnmapped(t *testing.T) {
	cfg := createTestConfig()
	cfg.ApplicationSchema = nil
	sent := newSentMessages()
	h := newTestHandler(t, cfg, sent, nil, nil)

	output, err := h.Execute(context.Background(), &Input{RunID: "run-1"})

	require.NoError(t, err)
	assert.Zero(t, output.SMSSent)
	assert.Empty(t, sent.sms)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_PartialFailure(t *testing.T) {
	sent := newSentMessages()
	h := newTestHandler(t, createTestConfig(), sent, nil, errors.New("sms quota exceeded"))

	output, err := h.Execute(context.Background(), &Input{RunID: "run-1"})

	require.NoError(t, err)
	assert.Equal(t, 2, output.EmailsSent)
	assert.Equal(t, 1, output.Failed)
}

func TestHandler_Execute_AllSendsFail(t *testing.T) {
	sent := newSentMessages()
	failure := errors.New("service unavailable")
	h := newTestHandler(t, createTestConfig(), sent, failure, failure)

	_, err := h.Execute(context.Background(), &Input{RunID: "run-1"})

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotificationSendFailed))
}

func TestHandler_Execute_RunNotFound(t *testing.T) {
	h := newTestHandler(t, createTestConfig(), newSentMessages(), nil, nil)

	_, err := h.Execute(context.Background(), &Input{RunID: "run-2"})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRunNotFound))
}

func TestNewHandler_RequiresSenders(t *testing.T) {
	_, err := NewHandler(createTestConfig(), Dependencies{Outputs: createTestOutputs()})
	assert.Error(t, err)

	cfg := createTestConfig()
	cfg.FromEmail = ""
	assert.Error(t, cfg.Validate())
}
