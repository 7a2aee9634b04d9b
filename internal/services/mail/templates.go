// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/innodigi/licenser/internal/models"
)

const defaultLicenseTemplate = `<p>Dear {{customer_name}},</p>
<p>Here is your license:</p>
<p><b>Code:</b> {{license_code}}<br/>
<b>Type:</b> {{license_type}}<br/>
<b>Domain:</b> {{domain}}<br/>
<b>Status:</b> {{status}}<br/>
<b>Expires:</b> {{expires_at}}</p>
<p>Terms: <a href="{{terms_url}}">{{terms_url}}</a></p>
<p>Regards,<br/>{{app_name}}</p>`

const defaultVerificationTemplate = `<p>Dear {{customer_name}},</p>
<p>A request was made to verify your license.</p>
<p><b>Code:</b> {{license_code}}<br/>
<b>Type:</b> {{license_type}}<br/>
<b>Domain:</b> {{domain}}</p>
<p>Click the link below to verify your license:</p>
<p><a href="{{verification_url}}">Verify License</a></p>
<p>This link is valid for 5 minutes.</p>
<p>Regards,<br/>{{app_name}}</p>`

const defaultResetTemplate = `<p>Hi {{user_name}},</p>
<p>A password reset was requested for your account. Click the link below to
choose a new password:</p>
<p><a href="{{reset_url}}">Reset Password</a></p>
<p>This link is valid for 30 minutes. If you did not request a reset you can
ignore this email.</p>
<p>Regards,<br/>{{app_name}}</p>`

const defaultAppName = "License Server"

// RenderTemplate substitutes {{placeholder}} variables into a template.
func RenderTemplate(template string, vars map[string]string) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

// Composer builds the outgoing license and verification emails from the
// configured templates and dispatches them through a Sender.
type Composer struct {
	settings *models.SettingStore
	sender   Sender
}

func NewComposer(settings *models.SettingStore, sender Sender) *Composer {
	return &Composer{settings: settings, sender: sender}
}

// TermsURL returns the public URL of the latest published terms document.
func (c *Composer) TermsURL(ctx context.Context) string {
	frontendURL, err := c.settings.GetDefault(ctx, models.SettingFrontendURL, "http://localhost:5173")
	if err != nil {
		frontendURL = "http://localhost:5173"
	}
	return frontendURL + "/#/terms/latest"
}

// SendLicenseEmail mails the license details to the customer.
func (c *Composer) SendLicenseEmail(ctx context.Context, license *models.License) error {
	appName, err := c.settings.GetDefault(ctx, models.SettingAppName, defaultAppName)
	if err != nil {
		return err
	}
	template, err := c.settings.GetDefault(ctx, models.SettingEmailTemplateLicense, defaultLicenseTemplate)
	if err != nil {
		return err
	}

	expires := "never"
	if license.ExpiresAt != nil {
		expires = license.ExpiresAt.Format(time.DateOnly)
	}

	html := RenderTemplate(template, map[string]string{
		"customer_name": license.CustomerName,
		"license_code":  license.Code,
		"license_type":  license.TypeName,
		"domain":        license.Domain,
		"status":        license.Status,
		"expires_at":    expires,
		"terms_url":     c.TermsURL(ctx),
		"app_name":      appName,
	})

	return c.sender.Send(ctx, license.CustomerEmail, fmt.Sprintf("%s license", appName), html)
}

// SendVerificationEmail mails the email-gate challenge link to the customer.
func (c *Composer) SendVerificationEmail(ctx context.Context, license *models.License, token string) error {
	appName, err := c.settings.GetDefault(ctx, models.SettingAppName, defaultAppName)
	if err != nil {
		return err
	}
	template, err := c.settings.GetDefault(ctx, models.SettingEmailTemplateVerification, defaultVerificationTemplate)
	if err != nil {
		return err
	}

	frontendURL, err := c.settings.GetDefault(ctx, models.SettingFrontendURL, "http://localhost:5173")
	if err != nil {
		return err
	}

	html := RenderTemplate(template, map[string]string{
		"customer_name":    license.CustomerName,
		"license_code":     license.Code,
		"license_type":     license.TypeName,
		"domain":           license.Domain,
		"verification_url": fmt.Sprintf("%s/verify-license/%s", frontendURL, token),
		"app_name":         appName,
	})

	return c.sender.Send(ctx, license.CustomerEmail, fmt.Sprintf("Verify your license - %s", appName), html)
}

// SendPasswordResetEmail mails a reset link to an admin account.
func (c *Composer) SendPasswordResetEmail(ctx context.Context, user *models.User, token string) error {
	appName, err := c.settings.GetDefault(ctx, models.SettingAppName, defaultAppName)
	if err != nil {
		return err
	}
	frontendURL, err := c.settings.GetDefault(ctx, models.SettingFrontendURL, "http://localhost:5173")
	if err != nil {
		return err
	}

	html := RenderTemplate(defaultResetTemplate, map[string]string{
		"user_name": user.Name,
		"reset_url": fmt.Sprintf("%s/reset-password/%s", frontendURL, token),
		"app_name":  appName,
	})

	return c.sender.Send(ctx, user.Email, fmt.Sprintf("Password reset - %s", appName), html)
}
