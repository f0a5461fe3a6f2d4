// Package settings stores the per-journal checkout configuration.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Setting keys, as stored per tenant and plugin.
const (
	KeySecret      = "secret"
	KeyAccountName = "accountName"
	KeyClientID    = "clientId"
	KeyTestMode    = "testMode"
	KeyWebhook     = "webhookSecret"
)

// ErrNoTenant is returned when an operation is attempted without a tenant.
var ErrNoTenant = errors.New("settings: tenant is required")

// Store is the settings collaborator. Get returns nil for an absent key and
// otherwise a string or bool.
type Store interface {
	Get(ctx context.Context, tenantID, key string) (any, error)
	Set(ctx context.Context, tenantID, key string, value any) error
}

// PaymentSettings is the checkout configuration of one tenant.
type PaymentSettings struct {
	SecretKey   string
	AccountName string
	ClientID    string
	TestMode    bool
	// WebhookSecret verifies asynchronous provider notifications.
	WebhookSecret string
}

// Configured reports whether the tenant may start a checkout.
func (s PaymentSettings) Configured() bool {
	return strings.TrimSpace(s.AccountName) != ""
}

// MaskedSecret returns the secret with all but its last four characters hidden.
func (s PaymentSettings) MaskedSecret() string {
	secret := strings.TrimSpace(s.SecretKey)
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

// Provider reads and writes PaymentSettings through a Store.
type Provider struct {
	Store Store
}

// Load reads all keys for tenantID. Missing keys load as zero values.
func (p Provider) Load(ctx context.Context, tenantID string) (PaymentSettings, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return PaymentSettings{}, ErrNoTenant
	}
	if p.Store == nil {
		return PaymentSettings{}, errors.New("settings: store not configured")
	}
	var out PaymentSettings
	var err error
	if out.SecretKey, err = p.str(ctx, tenantID, KeySecret); err != nil {
		return PaymentSettings{}, err
	}
	if out.AccountName, err = p.str(ctx, tenantID, KeyAccountName); err != nil {
		return PaymentSettings{}, err
	}
	if out.ClientID, err = p.str(ctx, tenantID, KeyClientID); err != nil {
		return PaymentSettings{}, err
	}
	if out.WebhookSecret, err = p.str(ctx, tenantID, KeyWebhook); err != nil {
		return PaymentSettings{}, err
	}
	raw, err := p.Store.Get(ctx, tenantID, KeyTestMode)
	if err != nil {
		return PaymentSettings{}, fmt.Errorf("settings: read %s: %w", KeyTestMode, err)
	}
	switch v := raw.(type) {
	case bool:
		out.TestMode = v
	case string:
		out.TestMode = v == "true"
	}
	return out, nil
}

// IsConfigured is false for an empty tenant, a store error, or an empty
// account name.
func (p Provider) IsConfigured(ctx context.Context, tenantID string) bool {
	s, err := p.Load(ctx, tenantID)
	if err != nil {
		return false
	}
	return s.Configured()
}

// Form is the submitted settings form. Nil fields are left untouched.
type Form struct {
	AccountName *string `json:"accountName" validate:"omitempty,max=255"`
	ClientID    *string `json:"clientId" validate:"omitempty,max=255"`
	Secret      *string `json:"secret" validate:"omitempty,max=255"`
	TestMode    *string `json:"testMode" validate:"omitempty,max=8"`
	Webhook     *string `json:"webhookSecret" validate:"omitempty,max=255"`
}

// Save applies the form: strings are stored as given and testMode is true
// only when the submitted value is exactly "true".
func (p Provider) Save(ctx context.Context, tenantID string, form Form) (PaymentSettings, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return PaymentSettings{}, ErrNoTenant
	}
	if p.Store == nil {
		return PaymentSettings{}, errors.New("settings: store not configured")
	}
	writes := []struct {
		key   string
		value any
		set   bool
	}{
		{KeyAccountName, deref(form.AccountName), form.AccountName != nil},
		{KeyClientID, deref(form.ClientID), form.ClientID != nil},
		{KeySecret, deref(form.Secret), form.Secret != nil},
		{KeyTestMode, deref(form.TestMode) == "true", form.TestMode != nil},
		{KeyWebhook, deref(form.Webhook), form.Webhook != nil},
	}
	for _, w := range writes {
		if !w.set {
			continue
		}
		if err := p.Store.Set(ctx, tenantID, w.key, w.value); err != nil {
			return PaymentSettings{}, fmt.Errorf("settings: write %s: %w", w.key, err)
		}
	}
	return p.Load(ctx, tenantID)
}

func (p Provider) str(ctx context.Context, tenantID, key string) (string, error) {
	raw, err := p.Store.Get(ctx, tenantID, key)
	if err != nil {
		return "", fmt.Errorf("settings: read %s: %w", key, err)
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	default:
		return "", nil
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
