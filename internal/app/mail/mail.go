// Package mail renders notification templates and delivers them over SMTP.
package mail

import (
	"context"
	"fmt"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"github.com/R3E-Network/signflow/pkg/logger"
)

// Envelope is a rendered message ready to send.
type Envelope struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers one envelope and returns the provider message id used to
// correlate delivery webhooks.
type Sender interface {
	Send(ctx context.Context, env Envelope) (string, error)
}

// SMTPConfig holds server settings for SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends through an SMTP relay using go-mail.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender validates the configuration.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("mail: smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("mail: from address is required")
	}
	return &SMTPSender{cfg: cfg}, nil
}

func (s *SMTPSender) message(env Envelope) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("mail: from: %w", err)
	}
	if err := msg.To(env.To); err != nil {
		return nil, fmt.Errorf("mail: to: %w", err)
	}
	msg.Subject(env.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, env.Body)
	msg.SetMessageID()
	msg.SetDate()
	return msg, nil
}

func (s *SMTPSender) Send(ctx context.Context, env Envelope) (string, error) {
	msg, err := s.message(env)
	if err != nil {
		return "", err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return "", fmt.Errorf("mail: client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("mail: send: %w", err)
	}
	return messageID(msg), nil
}

func messageID(msg *gomail.Msg) string {
	ids := msg.GetGenHeader(gomail.HeaderMessageID)
	if len(ids) == 0 {
		return ""
	}
	return strings.Trim(ids[0], "<>")
}

// LogSender writes messages to the log instead of sending them. It is used
// when mail is disabled in development.
type LogSender struct {
	log *logger.Logger
}

// NewLogSender returns a sender that only logs.
func NewLogSender(log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.NewDefault("mail")
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, env Envelope) (string, error) {
	s.log.WithFields(map[string]interface{}{
		"to":      env.To,
		"subject": env.Subject,
	}).Info("mail delivery disabled; message logged")
	s.log.Debug(env.Body)
	return "", nil
}
