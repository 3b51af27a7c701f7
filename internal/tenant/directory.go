package tenant

import (
	"context"

	"github.com/sells-group/funnel-cli/internal/config"
	"github.com/sells-group/funnel-cli/internal/model"
)

// MetaCredentials are the Graph API and Conversions API settings for a tenant.
type MetaCredentials struct {
	AccessToken     string
	AdAccountID     string
	PixelID         string
	CAPIAccessToken string
	TestEventCode   string
}

// Directory resolves active tenants and their credentials. Credentials
// missing from tenant_integrations fall back to the global config.
type Directory struct {
	store Store
	cfg   *config.Config
}

// NewDirectory creates a Directory.
func NewDirectory(store Store, cfg *config.Config) *Directory {
	return &Directory{store: store, cfg: cfg}
}

// Active returns the tenant for slug, or ErrNotFound when it is unknown or
// deactivated.
func (d *Directory) Active(ctx context.Context, slug string) (*model.Tenant, error) {
	if slug == "" {
		slug = d.cfg.Server.DefaultTenant
	}
	t, err := d.store.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, ErrNotFound
	}
	return t, nil
}

// StripeWebhookSecret returns the signing secret for the tenant's endpoint.
func (d *Directory) StripeWebhookSecret(ctx context.Context, t *model.Tenant) (string, error) {
	i, err := d.store.Integration(ctx, t.ID, model.ProviderStripe)
	if err != nil {
		return "", err
	}
	return firstNonEmpty(i.Credential("webhook_secret"), d.cfg.Stripe.WebhookSecret), nil
}

// ManyChatAPIKey returns the tenant's ManyChat key.
func (d *Directory) ManyChatAPIKey(ctx context.Context, t *model.Tenant) (string, error) {
	i, err := d.store.Integration(ctx, t.ID, model.ProviderManyChat)
	if err != nil {
		return "", err
	}
	return firstNonEmpty(i.Credential("api_key"), d.cfg.ManyChat.APIKey), nil
}

// Meta returns the tenant's Meta credentials field by field over the
// global defaults.
func (d *Directory) Meta(ctx context.Context, t *model.Tenant) (MetaCredentials, error) {
	i, err := d.store.Integration(ctx, t.ID, model.ProviderMeta)
	if err != nil {
		return MetaCredentials{}, err
	}
	g := d.cfg.Meta
	return MetaCredentials{
		AccessToken:     firstNonEmpty(i.Credential("access_token"), g.AccessToken),
		AdAccountID:     firstNonEmpty(i.Credential("ad_account_id"), g.AdAccountID),
		PixelID:         firstNonEmpty(i.Credential("pixel_id"), g.PixelID),
		CAPIAccessToken: firstNonEmpty(i.Credential("capi_access_token"), g.CAPIAccessToken),
		TestEventCode:   firstNonEmpty(i.Credential("test_event_code"), g.TestEventCode),
	}, nil
}

// LeadMagnetAdIDs returns the tenant's lead magnet ads, else the global list.
func (d *Directory) LeadMagnetAdIDs(t *model.Tenant) []string {
	if len(t.Config.LeadMagnetAdIDs) > 0 {
		return t.Config.LeadMagnetAdIDs
	}
	return d.cfg.Report.LeadMagnetAdIDs
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
