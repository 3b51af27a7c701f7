package metaads

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/pkg/meta"
)

type fakePublisher struct {
	ids    []string
	bodies [][]byte
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, id string, body []byte) error {
	f.ids = append(f.ids, id)
	f.bodies = append(f.bodies, body)
	return f.err
}

const insertCAPIPattern = `INSERT INTO meta_capi_events .* ON CONFLICT \(event_id\) DO NOTHING`

func TestEnqueue_HashesAndPublishes(t *testing.T) {
	pool := newMockPool(t)
	pub := &fakePublisher{}
	q := NewCAPIQueue(pool, pub)

	ev := PurchaseEvent("t-1", "c-1", model.CAPIUserData{
		Email:     " Ann@Example.com ",
		Phone:     "(555) 123-4567",
		FirstName: "Ann",
		LastName:  "Lee",
	}, 2500, "cs_123")

	pool.ExpectQuery(insertCAPIPattern).
		WithArgs("t-1", pgxmock.AnyArg(), "Purchase", pgxmock.AnyArg(), "purchase_cs_123", "website", (*string)(nil),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			(*string)(nil), (*string)(nil), (*string)(nil),
			2500.0, "USD", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("row-1"))

	id, err := q.Enqueue(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "row-1", id)

	assert.Equal(t, meta.HashEmail("ann@example.com"), ev.EmailHash)
	assert.Equal(t, meta.Hash("15551234567"), ev.PhoneHash)
	assert.Equal(t, meta.Hash("ann"), ev.FirstHash)
	assert.Empty(t, ev.UserData.Email, "plain text must not be kept")

	require.Equal(t, []string{"row-1"}, pub.ids)
	var msg Message
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, Message{ID: "row-1", TenantID: "t-1"}, msg)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestEnqueue_DuplicateEventID(t *testing.T) {
	pool := newMockPool(t)
	pub := &fakePublisher{}

	pool.ExpectQuery(insertCAPIPattern).WillReturnError(pgx.ErrNoRows)

	id, err := NewCAPIQueue(pool, pub).Enqueue(context.Background(), PurchaseEvent("t-1", "c-1", model.CAPIUserData{}, 100, "cs_1"))
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, pub.ids)
}

func TestEnqueue_PublishFailureIsNotAnError(t *testing.T) {
	pool := newMockPool(t)
	pool.ExpectQuery(insertCAPIPattern).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("row-2"))

	id, err := NewCAPIQueue(pool, &fakePublisher{err: errors.New("channel closed")}).
		Enqueue(context.Background(), LeadEvent("t-1", "c-1", model.CAPIUserData{Email: "a@example.com"}, "ad-9"))
	require.NoError(t, err)
	assert.Equal(t, "row-2", id)
}

func TestEnqueue_InsertError(t *testing.T) {
	pool := newMockPool(t)
	pool.ExpectQuery(insertCAPIPattern).WillReturnError(errors.New("relation does not exist"))

	_, err := NewCAPIQueue(pool, nil).Enqueue(context.Background(), AddToCartEvent("t-1", "", model.CAPIUserData{}, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue AddToCart")
}

func TestEnqueue_Validation(t *testing.T) {
	q := NewCAPIQueue(nil, nil)
	_, err := q.Enqueue(context.Background(), &model.CAPIEvent{EventName: model.CAPILead})
	assert.Error(t, err)
	_, err = q.Enqueue(context.Background(), &model.CAPIEvent{TenantID: "t-1"})
	assert.Error(t, err)
}

func TestPrepareDefaults(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := &model.CAPIEvent{TenantID: "t", EventName: model.CAPIInitiateCheckout}
	prepare(ev, now)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, now, ev.EventTime)
	assert.Equal(t, "website", ev.ActionSource)
	assert.Equal(t, "USD", ev.Currency)
}
