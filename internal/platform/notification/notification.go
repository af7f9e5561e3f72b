// Package notification publishes operational notifications (file errors,
// processed files, daily summaries) to SNS topics. Delivery is best-effort:
// the Notifier logs failures and never returns them to the caller.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxSubjectLen is the SNS limit on subject length.
const maxSubjectLen = 100

// ---------------------------------------------------------------------------
// Publisher
// ---------------------------------------------------------------------------

// Publisher delivers one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topicARN, subject, body string) error
}

// SNSAPI is the subset of the SNS client used by SNSPublisher.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes to Amazon SNS.
type SNSPublisher struct {
	client SNSAPI
}

// NewSNSPublisher wraps an SNS client.
func NewSNSPublisher(client SNSAPI) *SNSPublisher {
	return &SNSPublisher{client: client}
}

// NewSNSPublisherFromConfig builds a publisher from an AWS config.
func NewSNSPublisherFromConfig(cfg aws.Config) *SNSPublisher {
	return &SNSPublisher{client: sns.NewFromConfig(cfg)}
}

// Publish sends body to topicARN. Subjects longer than SNS allows are cut.
func (p *SNSPublisher) Publish(ctx context.Context, topicARN, subject, body string) error {
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}
	_, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("sns publish to %s: %w", topicARN, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template IDs of the built-in templates.
const (
	TemplateFileError     = "file-error"
	TemplateFileProcessed = "file-processed"
	TemplateDailySummary  = "daily-summary"
)

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateFileError,
			Subject: "Lambda Error in {{function}}",
			Body: "HL7 Error\n\n" +
				"Function: {{function}}\n" +
				"File: s3://{{bucket}}/{{key}}\n" +
				"Site: {{site}}\n" +
				"Publisher: {{publisher}}\n" +
				"Reason: {{reason}}\n" +
				"Run: {{run_id}}\n",
		},
		{
			ID:      TemplateFileProcessed,
			Subject: "HL7 Processed: {{site}}/{{publisher}}",
			Body: "HL7 File Processed\n\n" +
				"Function: {{function}}\n" +
				"File: s3://{{bucket}}/{{key}}\n" +
				"Artifacts: {{artifacts}}\n" +
				"Rejects: {{rejects}}\n" +
				"Run: {{run_id}}\n",
		},
		{
			ID:      TemplateDailySummary,
			Subject: "Daily HL7 Summary Report",
			Body:    "{{report}}",
		},
	}
	for _, t := range builtIn {
		e.RegisterTemplate(t)
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body), nil
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

// Topics names the SNS topics per notification kind. An empty ARN disables
// that kind.
type Topics struct {
	Error   string
	Success string
	Summary string
}

// FileEvent describes the outcome of processing one input file.
type FileEvent struct {
	Function  string
	Bucket    string
	Key       string
	Site      string
	Publisher string
	Reason    string
	RunID     string
	Artifacts int
	Rejects   int
}

func (ev FileEvent) data() map[string]string {
	return map[string]string{
		"function":  ev.Function,
		"bucket":    ev.Bucket,
		"key":       ev.Key,
		"site":      ev.Site,
		"publisher": ev.Publisher,
		"reason":    ev.Reason,
		"run_id":    ev.RunID,
		"artifacts": strconv.Itoa(ev.Artifacts),
		"rejects":   strconv.Itoa(ev.Rejects),
	}
}

// Notification records one delivery attempt.
type Notification struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier renders templates and publishes them without failing the caller.
type Notifier struct {
	pub       Publisher
	templates *TemplateEngine
	topics    Topics
	logger    zerolog.Logger
}

// NewNotifier constructs a Notifier. A nil template engine uses the built-ins.
func NewNotifier(pub Publisher, tpl *TemplateEngine, topics Topics, logger zerolog.Logger) *Notifier {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Notifier{pub: pub, templates: tpl, topics: topics, logger: logger}
}

// FileError reports a file-level failure on the error topic.
func (n *Notifier) FileError(ctx context.Context, ev FileEvent) *Notification {
	return n.send(ctx, n.topics.Error, TemplateFileError, ev.data())
}

// FileProcessed reports a processed file on the success topic, if one is set.
func (n *Notifier) FileProcessed(ctx context.Context, ev FileEvent) *Notification {
	return n.send(ctx, n.topics.Success, TemplateFileProcessed, ev.data())
}

// DailySummary publishes a rendered summary report on the summary topic.
func (n *Notifier) DailySummary(ctx context.Context, report string) *Notification {
	return n.send(ctx, n.topics.Summary, TemplateDailySummary, map[string]string{"report": report})
}

// send returns nil when the topic is not configured.
func (n *Notifier) send(ctx context.Context, topic, templateID string, data map[string]string) *Notification {
	if topic == "" || n.pub == nil {
		return nil
	}
	subject, body, err := n.templates.Render(templateID, data)
	if err != nil {
		n.logger.Warn().Err(err).Str("template", templateID).Msg("notification not rendered")
		return nil
	}

	rec := &Notification{
		ID:        uuid.New().String(),
		Topic:     topic,
		Subject:   subject,
		Body:      body,
		Status:    "sent",
		CreatedAt: time.Now().UTC(),
	}
	if err := n.pub.Publish(ctx, topic, subject, body); err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
		n.logger.Warn().Err(err).Str("notification_id", rec.ID).Str("subject", subject).Msg("notification delivery failed")
		return rec
	}
	n.logger.Debug().Str("notification_id", rec.ID).Str("subject", subject).Msg("notification sent")
	return rec
}

// ---------------------------------------------------------------------------
// Mock Publisher (test double)
// ---------------------------------------------------------------------------

// PublishCall records a single call to Publish.
type PublishCall struct {
	Topic   string
	Subject string
	Body    string
}

// MockPublisher is a test double for Publisher.
type MockPublisher struct {
	mu         sync.Mutex
	calls      []PublishCall
	ShouldFail bool
	FailError  string
}

// Publish records the call and optionally returns an error.
func (m *MockPublisher) Publish(_ context.Context, topic, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, PublishCall{Topic: topic, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (m *MockPublisher) Calls() []PublishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishCall, len(m.calls))
	copy(out, m.calls)
	return out
}
