// Package mailer delivers alert notifications over SMTP.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog"

	"github.com/aristath/stockwatch/internal/domain"
)

// Client sends plain-text mail through a single SMTP relay.
type Client struct {
	addr string // host:port of the relay
	from string
	log  zerolog.Logger
}

// NewClient creates a new SMTP notifier
func NewClient(addr, from string, log zerolog.Logger) *Client {
	return &Client{
		addr: addr,
		from: from,
		log:  log.With().Str("client", "mailer").Logger(),
	}
}

// Send delivers one message. Delivery runs in its own goroutine so a stuck
// relay cannot outlive the caller's context.
func (c *Client) Send(ctx context.Context, address, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		c.from, address, subject, body)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(c.addr, nil, c.from, []string{address}, []byte(msg))
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrNotifyFailure, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrNotifyFailure, err)
		}
	}

	c.log.Info().Str("to", address).Str("subject", subject).Msg("Notification sent")
	return nil
}
