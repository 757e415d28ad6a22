// Package mail composes and sends portal notification email.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"github.com/tcmartin/devportal/pkg/logging"
)

// ErrNoRecipients is returned when a message has nobody to send to
var ErrNoRecipients = errors.New("mail: message has no recipients")

// Message is an outbound email
type Message struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Cc      []string          `json:"cc,omitempty"`
	Subject string            `json:"subject"`
	Body    string            `json:"body"`
	HTML    string            `json:"html,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Date    time.Time         `json:"date,omitempty"`
}

// Recipients returns every envelope recipient
func (m Message) Recipients() []string {
	return append(append([]string(nil), m.To...), m.Cc...)
}

// Sender delivers messages
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Compose renders msg as an RFC 5322 message. A message with an HTML body
// becomes multipart/alternative with the plain text first.
func Compose(msg Message) ([]byte, error) {
	if len(msg.To) == 0 {
		return nil, ErrNoRecipients
	}

	from, err := parseAddresses([]string{msg.From})
	if err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	to, err := parseAddresses(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}

	var h gomail.Header
	h.SetAddressList("From", from)
	h.SetAddressList("To", to)
	if len(msg.Cc) > 0 {
		cc, err := parseAddresses(msg.Cc)
		if err != nil {
			return nil, fmt.Errorf("invalid cc address: %w", err)
		}
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(msg.Subject)
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	for key, value := range msg.Headers {
		h.Set(key, value)
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create message body: %w", err)
	}
	if err := writeInline(tw, "text/plain", msg.Body); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writeInline(tw, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeInline(tw *gomail.InlineWriter, contentType, body string) error {
	var h gomail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func parseAddresses(list []string) ([]*gomail.Address, error) {
	out := make([]*gomail.Address, 0, len(list))
	for _, raw := range list {
		addr, err := gomail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", raw, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// SMTPConfig holds SMTP relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends mail through an SMTP relay
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a sender for the relay in cfg
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
}

// Send implements Sender
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.From == "" {
		msg.From = s.cfg.From
	}
	raw, err := Compose(msg)
	if err != nil {
		return err
	}

	envelopeFrom, err := gomail.ParseAddress(msg.From)
	if err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	rcpts, err := parseAddresses(msg.Recipients())
	if err != nil {
		return err
	}
	to := make([]string, len(rcpts))
	for i, a := range rcpts {
		to[i] = a.Address
	}

	var a smtp.Auth
	if s.cfg.Username != "" {
		a = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	if err := s.sendMail(addr, a, envelopeFrom.Address, to, raw); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", strings.Join(to, ", "), err)
	}
	return nil
}

// LogSender records messages in the log instead of sending them. It is used
// when no SMTP relay is configured.
type LogSender struct {
	Logger logging.Logger
}

// Send implements Sender
func (s LogSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	s.Logger.Info("email not sent, no SMTP relay configured",
		logging.F("to", strings.Join(msg.Recipients(), ", ")),
		logging.F("subject", msg.Subject))
	return nil
}
