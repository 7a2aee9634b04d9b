// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mail dispatches transactional email through the SMTP collaborator
// configured in the settings store. Dispatch is best effort: the verification
// flow treats a failed send as a logged operational event, never as a
// verification failure.
package mail

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	gomail "github.com/wneessen/go-mail"

	"github.com/innodigi/licenser/internal/models"
)

// Sender delivers a single HTML message.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPSender reads its SMTP configuration from the settings store on every
// send, so settings changes apply without a restart.
type SMTPSender struct {
	settings *models.SettingStore
}

func NewSMTPSender(settings *models.SettingStore) *SMTPSender {
	return &SMTPSender{settings: settings}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	host, err := s.settings.Get(ctx, models.SettingSMTPHost)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("smtp host not configured")
	}

	portStr, err := s.settings.GetDefault(ctx, models.SettingSMTPPort, "587")
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid smtp port %q: %w", portStr, err)
	}

	secureStr, err := s.settings.GetDefault(ctx, models.SettingSMTPSecure, "false")
	if err != nil {
		return err
	}
	user, err := s.settings.Get(ctx, models.SettingSMTPUser)
	if err != nil {
		return err
	}
	pass, err := s.settings.Get(ctx, models.SettingSMTPPass)
	if err != nil {
		return err
	}
	from, err := s.settings.GetDefault(ctx, models.SettingSMTPFrom, "Licenses <no-reply@example.com>")
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if secureStr == "true" {
		opts = append(opts, gomail.WithSSLPort(false))
	}
	if user != "" && pass != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(user),
			gomail.WithPassword(pass),
		)
	}

	client, err := gomail.NewClient(host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}

	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return fmt.Errorf("invalid from address %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlBody)

	// Transient SMTP failures get a couple of quick retries before the send
	// counts as failed.
	return retry.Do(
		func() error { return client.DialAndSendWithContext(ctx, msg) },
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}
