package metaads

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/monitoring"
	"github.com/sells-group/funnel-cli/internal/tenant"
	"github.com/sells-group/funnel-cli/pkg/meta"
)

// Credentials looks up a tenant's Meta settings.
type Credentials interface {
	Meta(ctx context.Context, t *model.Tenant) (tenant.MetaCredentials, error)
}

// Dispatcher sends outbox rows to the Conversions API.
type Dispatcher struct {
	q           db.Querier
	client      meta.Client
	creds       Credentials
	maxAttempts int
}

// NewDispatcher creates a Dispatcher. Rows that reached maxAttempts are
// left in place and reported by monitoring.
func NewDispatcher(q db.Querier, client meta.Client, creds Credentials, maxAttempts int) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{q: q, client: client, creds: creds, maxAttempts: maxAttempts}
}

const capiColumns = `id, tenant_id, coalesce(contact_id, ''), event_name, event_time, event_id,
	action_source, coalesce(ad_id, ''), coalesce(user_email_hash, ''), coalesce(user_phone_hash, ''),
	coalesce(user_first_name_hash, ''), coalesce(user_last_name_hash, ''), coalesce(user_external_id, ''),
	coalesce(user_fbp, ''), coalesce(user_fbc, ''), coalesce(event_value, 0)::float8,
	coalesce(currency, ''), coalesce(content_name, ''), send_attempts, sent_to_meta, coalesce(last_error, '')`

func capiDests(e *model.CAPIEvent) []any {
	return []any{
		&e.ID, &e.TenantID, &e.ContactID, &e.EventName, &e.EventTime, &e.EventID,
		&e.ActionSource, &e.AdID, &e.EmailHash, &e.PhoneHash,
		&e.FirstHash, &e.LastHash, &e.ExternalID,
		&e.FBP, &e.FBC, &e.Value,
		&e.Currency, &e.ContentName, &e.SendAttempts, &e.SentToMeta, &e.LastError,
	}
}

// FlushResult counts one flush.
type FlushResult struct {
	Sent   int
	Failed int
}

// Flush sends up to limit pending rows, oldest first. Individual send
// failures are recorded on the row and counted; only the pending query
// itself fails the flush.
func (d *Dispatcher) Flush(ctx context.Context, limit int) (FlushResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.q.Query(ctx, `SELECT `+capiColumns+` FROM meta_capi_events
		WHERE sent_to_meta = false AND send_attempts < $1
		ORDER BY created_at ASC LIMIT $2`, d.maxAttempts, limit)
	if err != nil {
		return FlushResult{}, eris.Wrap(err, "metaads: list pending capi events")
	}
	defer rows.Close()

	var events []model.CAPIEvent
	for rows.Next() {
		var e model.CAPIEvent
		if err := rows.Scan(capiDests(&e)...); err != nil {
			return FlushResult{}, eris.Wrap(err, "metaads: scan pending capi event")
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return FlushResult{}, eris.Wrap(err, "metaads: iterate pending capi events")
	}
	rows.Close()

	var res FlushResult
	for i := range events {
		if err := d.send(ctx, &events[i]); err != nil {
			res.Failed++
			continue
		}
		res.Sent++
	}
	zap.L().Info("metaads: capi flush complete", zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return res, nil
}

// SendByID sends one outbox row. A row already sent or out of attempts is
// a no-op.
func (d *Dispatcher) SendByID(ctx context.Context, id string) error {
	var e model.CAPIEvent
	err := d.q.QueryRow(ctx, `SELECT `+capiColumns+` FROM meta_capi_events WHERE id = $1`, id).Scan(capiDests(&e)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Errorf("metaads: capi event %s not found", id)
	}
	if err != nil {
		return eris.Wrapf(err, "metaads: load capi event %s", id)
	}
	if e.SentToMeta || e.SendAttempts >= d.maxAttempts {
		return nil
	}
	return d.send(ctx, &e)
}

func (d *Dispatcher) send(ctx context.Context, e *model.CAPIEvent) error {
	log := zap.L().With(
		zap.String("tenant", e.TenantID),
		zap.String("capi_event_id", e.ID),
		zap.String("event_name", string(e.EventName)),
	)

	creds, err := d.creds.Meta(ctx, &model.Tenant{ID: e.TenantID})
	if err != nil {
		log.Warn("metaads: credentials lookup failed", zap.Error(err))
		return err
	}
	if creds.PixelID == "" || creds.CAPIAccessToken == "" {
		err := eris.New("metaads: pixel id and capi access token not configured")
		return d.markFailed(ctx, log, e, err)
	}

	resp, err := d.client.SendEvents(ctx, creds.PixelID, creds.CAPIAccessToken, meta.EventsRequest{
		Data:          []meta.ServerEvent{serverEvent(e)},
		TestEventCode: creds.TestEventCode,
	})
	if err == nil && resp.EventsReceived < 1 {
		err = eris.New("metaads: no events received")
	}
	if err != nil {
		return d.markFailed(ctx, log, e, err)
	}

	if _, err := d.q.Exec(ctx, `UPDATE meta_capi_events
		SET send_attempts = send_attempts + 1, last_send_attempt_at = now(), sent_to_meta = true, last_error = NULL
		WHERE id = $1`, e.ID); err != nil {
		return eris.Wrapf(err, "metaads: mark %s sent", e.ID)
	}
	monitoring.RecordCAPI(string(e.EventName), "sent")
	log.Debug("metaads: capi event sent", zap.String("fbtrace_id", resp.FBTraceID))
	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, log *zap.Logger, e *model.CAPIEvent, cause error) error {
	monitoring.RecordCAPI(string(e.EventName), "failed")
	log.Warn("metaads: capi send failed", zap.Int("attempt", e.SendAttempts+1), zap.Error(cause))
	if _, err := d.q.Exec(ctx, `UPDATE meta_capi_events
		SET send_attempts = send_attempts + 1, last_send_attempt_at = now(), last_error = $2
		WHERE id = $1`, e.ID, cause.Error()); err != nil {
		log.Error("metaads: record capi failure", zap.Error(err))
	}
	return cause
}

func serverEvent(e *model.CAPIEvent) meta.ServerEvent {
	ud := meta.UserData{FBP: e.FBP, FBC: e.FBC}
	if e.EmailHash != "" {
		ud.Email = []string{e.EmailHash}
	}
	if e.PhoneHash != "" {
		ud.Phone = []string{e.PhoneHash}
	}
	if e.FirstHash != "" {
		ud.FirstName = []string{e.FirstHash}
	}
	if e.LastHash != "" {
		ud.LastName = []string{e.LastHash}
	}
	if e.ExternalID != "" {
		ud.ExternalID = []string{meta.Hash(e.ExternalID)}
	}

	se := meta.ServerEvent{
		EventName:    string(e.EventName),
		EventTime:    e.EventTime.Unix(),
		EventID:      e.EventID,
		ActionSource: e.ActionSource,
		UserData:     ud,
	}
	if e.Value != 0 || e.Currency != "" || e.ContentName != "" {
		se.CustomData = &meta.CustomData{Value: e.Value, Currency: e.Currency, ContentName: e.ContentName}
	}
	return se
}

// Consume sends each delivered outbox id until ctx ends or the channel
// closes. A failed send is nacked without requeue so it dead-letters; the
// row keeps its attempt count and the flush job retries it.
func (d *Dispatcher) Consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	log := zap.L().With(zap.String("component", "metaads.consumer"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return eris.New("metaads: delivery channel closed")
			}
			var m Message
			if err := json.Unmarshal(msg.Body, &m); err != nil || m.ID == "" {
				log.Warn("metaads: malformed capi message", zap.ByteString("body", msg.Body))
				_ = msg.Nack(false, false)
				continue
			}
			if err := d.SendByID(ctx, m.ID); err != nil {
				_ = msg.Nack(false, false)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}
