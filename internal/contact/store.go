package contact

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/internal/model"
)

// ErrConflict is returned by Create when an external id or email already
// belongs to another contact.
var ErrConflict = eris.New("contact: identifier already linked")

// Store persists contacts.
type Store interface {
	Get(ctx context.Context, id string) (*model.Contact, error)
	Create(ctx context.Context, c *model.Contact) error
	// FillMissing copies non-empty seed fields into columns that are still
	// empty and merges seed tags. It never overwrites.
	FillMissing(ctx context.Context, id string, seed *model.Contact) error
}
