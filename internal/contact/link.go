package contact

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/model"
)

// Linker finds a contact by exact identifiers or creates one. Webhook
// entry points use it so that at most one contact exists per mc_id or ghl_id.
type Linker struct {
	store    Store
	resolver *Resolver
}

// NewLinker creates a Linker.
func NewLinker(store Store, resolver *Resolver) *Linker {
	return &Linker{store: store, resolver: resolver}
}

// FindOrCreate returns the id of the contact matching seed's external ids
// or email, creating it when none exists. Missing identifiers on an existing
// contact are filled from seed, which is how a GHL id gets linked to a
// ManyChat-created contact. Returns the id and whether it was created.
func (l *Linker) FindOrCreate(ctx context.Context, seed *model.Contact) (string, bool, error) {
	ident := Identity{
		TenantID: seed.TenantID,
		MCID:     seed.MCID,
		GHLID:    seed.GHLID,
		Email:    seed.EmailPrimary,
	}
	if ident.Email == "" {
		ident.Email = seed.EmailBooking
	}
	if ident.MCID == "" && ident.GHLID == "" && ident.Email == "" {
		return "", false, eris.New("contact: find or create needs mc_id, ghl_id or email")
	}

	for attempt := 0; attempt < 2; attempt++ {
		res := l.resolver.ResolveExact(ctx, ident)
		switch res.Status {
		case LookupFailed:
			return "", false, res.Err
		case Matched:
			if err := l.store.FillMissing(ctx, res.ContactID, seed); err != nil {
				if !errors.Is(err, ErrConflict) {
					return "", false, err
				}
				zap.L().Warn("contact: identifier owned by another contact, not linked",
					zap.String("tenant", seed.TenantID),
					zap.String("contact_id", res.ContactID),
				)
			}
			return res.ContactID, false, nil
		}

		err := l.store.Create(ctx, seed)
		if err == nil {
			zap.L().Info("contact: created",
				zap.String("tenant", seed.TenantID),
				zap.String("contact_id", seed.ID),
				zap.String("source", seed.Source),
			)
			return seed.ID, true, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", false, err
		}
		// A concurrent delivery created it first; resolve again.
	}
	return "", false, eris.New("contact: find or create lost a create race twice")
}
