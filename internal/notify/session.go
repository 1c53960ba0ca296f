// Package notify delivers course updates to subscribers over SMTP.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"coursetracker/internal/assert"
	"coursetracker/internal/course"
	"coursetracker/internal/telemetry"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_session_send         = "session.send"
	report_session_send_updates = "session.send-updates"
	report_session_send_status  = "session.send-status"
)

const defaultSendTimeout = 30 * time.Second

var tracer = otel.Tracer("coursetracker.notify")

// Transport delivers a single email, *email.Pool is the production implementation.
type Transport interface {
	Send(mail *email.Email, timeout time.Duration) error
	Close()
}

type Options struct {
	Server     string
	Port       int
	Email      string
	Password   string
	SenderName string

	RegistrationUrl string
	UpdateSubject   string
	StatusSubject   string
	// SummaryReceiver gets SendSummary notices, empty disables them.
	SummaryReceiver string
}

func (o Options) address() string {
	return fmt.Sprintf("%s:%d", o.Server, o.Port)
}

func (o Options) from() string {
	if o.SenderName == "" {
		return o.Email
	}
	return fmt.Sprintf("%s <%s>", o.SenderName, o.Email)
}

// Session is a long lived SMTP session, it is created once at startup and
// closed on exit.
type Session struct {
	opts      Options
	transport Transport
	tel       telemetry.API
}

type poolTransport struct {
	pool    *email.Pool
	address string
}

func (t poolTransport) Send(mail *email.Email, timeout time.Duration) error {
	err := t.pool.Send(mail, timeout)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		return mail.Send(t.address, nil)
	}
	return err
}

func (t poolTransport) Close() {
	t.pool.Close()
}

// NewSession creates a session backed by a single pooled SMTP connection
// authenticated with plain auth.
func NewSession(opts Options, tel telemetry.API) (Session, error) {
	assert.NotEmptyStr(opts.Server, "smtp server")

	pool, err := email.NewPool(
		opts.address(),
		1,
		smtp.PlainAuth("", opts.Email, opts.Password, opts.Server),
		&tls.Config{ServerName: opts.Server},
	)
	if err != nil {
		return Session{}, fmt.Errorf("smtp pool: %w", err)
	}
	return NewSessionWithTransport(opts, poolTransport{pool: pool, address: opts.address()}, tel), nil
}

func NewSessionWithTransport(opts Options, transport Transport, tel telemetry.API) Session {
	assert.NotNil(transport)
	assert.NotNil(tel)

	return Session{
		opts:      opts,
		transport: transport,
		tel:       telemetry.NewScopedAPI("notify", tel),
	}
}

func (s Session) Close() {
	s.transport.Close()
}

func sendTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return defaultSendTimeout
	}
	return min(time.Until(deadline), defaultSendTimeout)
}

func (s Session) send(ctx context.Context, to, subject, body string) error {
	ctx, span := tracer.Start(ctx, "notify:send")
	defer span.End()
	span.SetAttributes(
		attribute.String("to", to),
		attribute.String("subject", subject),
	)

	err := ctx.Err()
	if err != nil {
		return err
	}

	mail := email.NewEmail()
	mail.From = s.opts.from()
	mail.To = []string{to}
	mail.Subject = subject
	mail.Text = []byte(body)

	err = s.transport.Send(mail, sendTimeout(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		s.tel.ReportBroken(report_session_send, err, telemetry.KV{Key: "to", Value: to})
		return fmt.Errorf("send to %s: %w", to, err)
	}
	s.tel.ReportDebug("sent email", to, subject)
	return nil
}

// sendPerSubscriber sends one mail per subscriber in sorted email order. A failed
// send does not stop the remaining ones, every failure is returned joined.
func (s Session) sendPerSubscriber(ctx context.Context, reportId, subject, intro string, snap course.Snapshot, subs course.SubscriberMap) error {
	var errs []error
	for _, to := range sortedEmails(subs) {
		name, ok := subs.Name(snap, to)
		if !ok {
			s.tel.ReportWarning(reportId, fmt.Errorf("no roster name for %s", to))
			name = fallbackName
		}
		body := formatSubscriberBody(name, intro, subs[to], snap, s.opts.RegistrationUrl)

		err := s.send(ctx, to, subject, body)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	s.tel.ReportCount(reportId, int64(len(subs)-len(errs)))
	return errors.Join(errs...)
}

// SendUpdates mails every subscriber in subs the current status of their updated courses.
func (s Session) SendUpdates(ctx context.Context, snap course.Snapshot, subs course.SubscriberMap) error {
	return s.sendPerSubscriber(ctx, report_session_send_updates, s.opts.UpdateSubject, updateIntro, snap, subs)
}

// SendStatus mails every subscriber in subs the current status of all their courses.
func (s Session) SendStatus(ctx context.Context, snap course.Snapshot, subs course.SubscriberMap) error {
	return s.sendPerSubscriber(ctx, report_session_send_status, s.opts.StatusSubject, statusIntro, snap, subs)
}

// SendSummary mails the summary receiver the status of every record, it does
// nothing when no receiver is configured.
func (s Session) SendSummary(ctx context.Context, snap course.Snapshot) error {
	if s.opts.SummaryReceiver == "" {
		return nil
	}
	return s.send(ctx, s.opts.SummaryReceiver, s.opts.UpdateSubject, formatSummaryBody(snap))
}
