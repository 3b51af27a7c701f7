package model

import "time"

// Tenant is one business whose funnel this deployment tracks.
type Tenant struct {
	ID          string       `json:"id" yaml:"id" db:"id"`
	Slug        string       `json:"slug" yaml:"slug" db:"slug"`
	Name        string       `json:"name" yaml:"name" db:"name"`
	OwnerName   string       `json:"owner_name,omitempty" yaml:"owner_name" db:"owner_name"`
	ReportEmail string       `json:"report_email,omitempty" yaml:"report_email" db:"report_email"`
	IsActive    bool         `json:"is_active" yaml:"is_active" db:"is_active"`
	Config      TenantConfig `json:"config" yaml:"config" db:"config"`
	CreatedAt   time.Time    `json:"created_at" yaml:"-" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" yaml:"-" db:"updated_at"`
}

// TenantConfig holds per-tenant settings stored as JSON.
type TenantConfig struct {
	ReportRecipients []string `json:"report_recipients,omitempty" yaml:"report_recipients"`
	LeadMagnetAdIDs  []string `json:"lead_magnet_ad_ids,omitempty" yaml:"lead_magnet_ad_ids"`
}

// ReportRecipients returns the configured recipients, falling back to the
// tenant's report email.
func (t *Tenant) ReportRecipients() []string {
	if len(t.Config.ReportRecipients) > 0 {
		return t.Config.ReportRecipients
	}
	if t.ReportEmail != "" {
		return []string{t.ReportEmail}
	}
	return nil
}

// Integration providers.
const (
	ProviderStripe   = "stripe"
	ProviderMeta     = "meta"
	ProviderManyChat = "manychat"
)

// TenantIntegration holds one provider's credentials for a tenant.
type TenantIntegration struct {
	TenantID    string            `json:"tenant_id" db:"tenant_id"`
	Provider    string            `json:"provider" db:"provider"`
	Credentials map[string]string `json:"credentials" db:"credentials"`
	IsActive    bool              `json:"is_active" db:"is_active"`
}

// Credential returns a credential value or "".
func (i *TenantIntegration) Credential(key string) string {
	if i == nil || !i.IsActive {
		return ""
	}
	return i.Credentials[key]
}
