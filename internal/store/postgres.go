package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Synergyfy/latap-messaging/internal/core"
)

// Postgres implements Store on a pgx pool. SQL lives inline next to the
// method that runs it; transactions are opened per-operation and always
// rolled back on the error path.
type Postgres struct {
	DB *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres { return &Postgres{DB: pool} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func channelsToStrings(chs []core.Channel) []string {
	out := make([]string, len(chs))
	for i, c := range chs {
		out[i] = string(c)
	}
	return out
}

func stringsToChannels(ss []string) []core.Channel {
	out := make([]core.Channel, len(ss))
	for i, s := range ss {
		out[i] = core.Channel(s)
	}
	return out
}

// --- businesses & credit ---

func (s *Postgres) CreateBusiness(ctx context.Context, b *core.Business) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return s.DB.QueryRow(ctx, `
		INSERT INTO businesses(id, name, credit_balance)
		VALUES($1,$2,$3)
		RETURNING created_at
	`, b.ID, b.Name, b.CreditBalance).Scan(&b.CreatedAt)
}

func (s *Postgres) GetBusiness(ctx context.Context, id string) (*core.Business, error) {
	var b core.Business
	err := s.DB.QueryRow(ctx, `
		SELECT id, name, credit_balance, created_at FROM businesses WHERE id=$1
	`, id).Scan(&b.ID, &b.Name, &b.CreditBalance, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrBusinessNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Deduct locks the business row, re-reads the balance and fails the whole
// transaction if it is below amount. The row lock is what serializes two
// concurrent campaigns debiting the same business.
func (s *Postgres) Deduct(ctx context.Context, businessID string, amount int64, reason string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int64
	err = tx.QueryRow(ctx, `SELECT credit_balance FROM businesses WHERE id=$1 FOR UPDATE`, businessID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrBusinessNotFound
	}
	if err != nil {
		return err
	}
	if balance < amount {
		return core.ErrInsufficientCredit
	}
	if _, err = tx.Exec(ctx, `UPDATE businesses SET credit_balance = credit_balance - $1 WHERE id=$2`, amount, businessID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO credit_transactions(id, business_id, kind, amount, reason)
		VALUES($1,$2,'debit',$3,$4)
	`, uuid.NewString(), businessID, amount, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) Refund(ctx context.Context, businessID string, amount int64, reason string) error {
	return s.addCredit(ctx, businessID, amount, "refund", reason)
}

func (s *Postgres) TopUp(ctx context.Context, businessID string, amount int64) error {
	return s.addCredit(ctx, businessID, amount, "topup", "")
}

func (s *Postgres) addCredit(ctx context.Context, businessID string, amount int64, kind, reason string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE businesses SET credit_balance = credit_balance + $1 WHERE id=$2`, amount, businessID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrBusinessNotFound
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO credit_transactions(id, business_id, kind, amount, reason)
		VALUES($1,$2,$3,$4,$5)
	`, uuid.NewString(), businessID, kind, amount, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) Balance(ctx context.Context, businessID string) (int64, error) {
	var bal int64
	err := s.DB.QueryRow(ctx, `SELECT credit_balance FROM businesses WHERE id=$1`, businessID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, core.ErrBusinessNotFound
	}
	return bal, err
}

// --- contacts ---

const contactCols = `id, business_id, name, phone, email, opt_in_channels, opt_out, tags, created_at, updated_at`

func scanContact(row pgx.Row) (*core.Contact, error) {
	var c core.Contact
	var optIn, tags []string
	err := row.Scan(&c.ID, &c.BusinessID, &c.Name, &c.Phone, &c.Email, &optIn, &c.OptOut, &tags, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.OptInChannels = stringsToChannels(optIn)
	c.Tags = tags
	return &c, nil
}

func (s *Postgres) CreateContact(ctx context.Context, c *core.Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return s.DB.QueryRow(ctx, `
		INSERT INTO contacts(id, business_id, name, phone, email, opt_in_channels, opt_out, tags)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at
	`, c.ID, c.BusinessID, c.Name, c.Phone, c.Email, channelsToStrings(c.OptInChannels), c.OptOut, c.Tags).
		Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (s *Postgres) GetContact(ctx context.Context, businessID, id string) (*core.Contact, error) {
	return scanContact(s.DB.QueryRow(ctx, `
		SELECT `+contactCols+` FROM contacts WHERE business_id=$1 AND id=$2
	`, businessID, id))
}

func (s *Postgres) GetContactsByIDs(ctx context.Context, businessID string, ids []string) ([]core.Contact, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+contactCols+` FROM contacts WHERE business_id=$1 AND id = ANY($2)
		ORDER BY created_at
	`, businessID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContacts(rows)
}

func (s *Postgres) ListContacts(ctx context.Context, businessID string) ([]core.Contact, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+contactCols+` FROM contacts WHERE business_id=$1 ORDER BY created_at
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContacts(rows)
}

func collectContacts(rows pgx.Rows) ([]core.Contact, error) {
	var out []core.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Postgres) FindContactByAddress(ctx context.Context, businessID string, ch core.Channel, address string) (*core.Contact, error) {
	col := "phone"
	if ch == core.ChannelEmail {
		col = "email"
	}
	return scanContact(s.DB.QueryRow(ctx, `
		SELECT `+contactCols+` FROM contacts WHERE business_id=$1 AND `+col+`=$2
		ORDER BY created_at LIMIT 1
	`, businessID, address))
}

func (s *Postgres) UpdateContactConsent(ctx context.Context, c *core.Contact) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE contacts SET opt_in_channels=$2, opt_out=$3, updated_at=now() WHERE id=$1
	`, c.ID, channelsToStrings(c.OptInChannels), c.OptOut)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// --- messages & logs ---

func (s *Postgres) CreateMessage(ctx context.Context, m *core.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return s.DB.QueryRow(ctx, `
		INSERT INTO messages(id, business_id, contact_id, thread_id, campaign_id, direction, channel, body, status, provider_message_id)
		VALUES($1,$2,NULLIF($3,''),NULLIF($4,''),NULLIF($5,''),$6,$7,$8,$9,NULLIF($10,''))
		RETURNING created_at, updated_at
	`, m.ID, m.BusinessID, m.ContactID, m.ThreadID, m.CampaignID, m.Direction, m.Channel, m.Body, m.Status, m.ProviderMessageID).
		Scan(&m.CreatedAt, &m.UpdatedAt)
}

const messageCols = `id, business_id, COALESCE(contact_id::text,''), COALESCE(thread_id::text,''), COALESCE(campaign_id::text,''), direction, channel, body, status, COALESCE(provider_message_id,''), created_at, updated_at`

func scanMessage(row pgx.Row) (*core.Message, error) {
	var m core.Message
	err := row.Scan(&m.ID, &m.BusinessID, &m.ContactID, &m.ThreadID, &m.CampaignID,
		&m.Direction, &m.Channel, &m.Body, &m.Status, &m.ProviderMessageID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Postgres) GetMessage(ctx context.Context, businessID, id string) (*core.Message, error) {
	return scanMessage(s.DB.QueryRow(ctx, `
		SELECT `+messageCols+` FROM messages WHERE business_id=$1 AND id=$2
	`, businessID, id))
}

func (s *Postgres) GetMessageByProviderID(ctx context.Context, providerID string) (*core.Message, error) {
	return scanMessage(s.DB.QueryRow(ctx, `
		SELECT `+messageCols+` FROM messages WHERE provider_message_id=$1
	`, providerID))
}

func (s *Postgres) UpdateMessageStatus(ctx context.Context, id string, st core.MessageStatus) error {
	tag, err := s.DB.Exec(ctx, `UPDATE messages SET status=$2, updated_at=now() WHERE id=$1`, id, st)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListThreadMessages(ctx context.Context, businessID, threadID string) ([]core.Message, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+messageCols+` FROM messages WHERE business_id=$1 AND thread_id=$2 ORDER BY created_at
	`, businessID, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Postgres) AppendMessageLog(ctx context.Context, l *core.MessageLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return s.DB.QueryRow(ctx, `
		INSERT INTO message_logs(id, business_id, message_id, channel, direction, status, error_reason, idempotency_key, provider_message_id)
		VALUES($1,$2,NULLIF($3,''),$4,$5,$6,$7,NULLIF($8,''),NULLIF($9,''))
		RETURNING created_at
	`, l.ID, l.BusinessID, l.MessageID, l.Channel, l.Direction, l.Status, l.ErrorReason, l.IdempotencyKey, l.ProviderMessageID).
		Scan(&l.CreatedAt)
}

const logCols = `id, business_id, COALESCE(message_id::text,''), channel, direction, status, error_reason, COALESCE(idempotency_key,''), COALESCE(provider_message_id,''), created_at`

func (s *Postgres) GetMessageLogByKey(ctx context.Context, idempotencyKey string) (*core.MessageLog, error) {
	if idempotencyKey == "" {
		return nil, core.ErrNotFound
	}
	var l core.MessageLog
	err := s.DB.QueryRow(ctx, `
		SELECT `+logCols+` FROM message_logs WHERE idempotency_key=$1
	`, idempotencyKey).Scan(&l.ID, &l.BusinessID, &l.MessageID, &l.Channel, &l.Direction,
		&l.Status, &l.ErrorReason, &l.IdempotencyKey, &l.ProviderMessageID, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Postgres) UpdateMessageLogStatus(ctx context.Context, providerMessageID string, st core.MessageStatus) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE message_logs SET status=$2 WHERE provider_message_id=$1
	`, providerMessageID, st)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// --- campaigns ---

func (s *Postgres) CreateCampaign(ctx context.Context, c *core.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return s.DB.QueryRow(ctx, `
		INSERT INTO campaigns(id, business_id, channel, audience_type, audience_size, template_id, content, estimated_cost, actual_cost, status)
		VALUES($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10)
		RETURNING created_at
	`, c.ID, c.BusinessID, c.Channel, c.AudienceType, c.AudienceSize, c.TemplateID, c.Content, c.EstimatedCost, c.ActualCost, c.Status).
		Scan(&c.CreatedAt)
}

func (s *Postgres) GetCampaign(ctx context.Context, businessID, id string) (*core.Campaign, error) {
	var c core.Campaign
	err := s.DB.QueryRow(ctx, `
		SELECT id, business_id, channel, audience_type, audience_size, COALESCE(template_id::text,''), content,
		       estimated_cost, actual_cost, status, created_at, sent_at
		FROM campaigns WHERE business_id=$1 AND id=$2
	`, businessID, id).Scan(&c.ID, &c.BusinessID, &c.Channel, &c.AudienceType, &c.AudienceSize,
		&c.TemplateID, &c.Content, &c.EstimatedCost, &c.ActualCost, &c.Status, &c.CreatedAt, &c.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Postgres) FinalizeCampaign(ctx context.Context, id string, st core.CampaignStatus, actualCost int64, sentAt *time.Time) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status=$2, actual_cost=$3, sent_at=$4 WHERE id=$1
	`, id, st, actualCost, sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Postgres) CampaignMessageStats(ctx context.Context, campaignID string) (map[core.MessageStatus]int, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT status, COUNT(*) FROM messages WHERE campaign_id=$1 GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats := map[core.MessageStatus]int{}
	for rows.Next() {
		var st core.MessageStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		stats[st] = n
	}
	return stats, rows.Err()
}

// --- threads ---

const threadCols = `id, business_id, contact_id, channel, status, last_activity_at, created_at`

func scanThread(row pgx.Row) (*core.Thread, error) {
	var t core.Thread
	err := row.Scan(&t.ID, &t.BusinessID, &t.ContactID, &t.Channel, &t.Status, &t.LastActivityAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Postgres) GetThread(ctx context.Context, businessID, id string) (*core.Thread, error) {
	return scanThread(s.DB.QueryRow(ctx, `
		SELECT `+threadCols+` FROM threads WHERE business_id=$1 AND id=$2
	`, businessID, id))
}

// FindOrCreateThread leans on the (business_id, contact_id, channel) unique
// index: the no-op DO UPDATE makes the insert return the surviving row under
// concurrent creation.
func (s *Postgres) FindOrCreateThread(ctx context.Context, businessID, contactID string, ch core.Channel) (*core.Thread, error) {
	return scanThread(s.DB.QueryRow(ctx, `
		INSERT INTO threads(id, business_id, contact_id, channel, status, last_activity_at)
		VALUES($1,$2,$3,$4,'OPEN',now())
		ON CONFLICT (business_id, contact_id, channel)
		DO UPDATE SET contact_id = EXCLUDED.contact_id
		RETURNING `+threadCols+`
	`, uuid.NewString(), businessID, contactID, ch))
}

func (s *Postgres) TouchThread(ctx context.Context, id string, at time.Time) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE threads SET status='OPEN', last_activity_at=$2 WHERE id=$1
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrThreadNotFound
	}
	return nil
}

func (s *Postgres) ListThreads(ctx context.Context, businessID string) ([]core.Thread, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+threadCols+` FROM threads WHERE business_id=$1 ORDER BY last_activity_at DESC
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Postgres) CloseInactiveThreads(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE threads SET status='CLOSED' WHERE status <> 'CLOSED' AND last_activity_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- templates ---

func (s *Postgres) CreateTemplate(ctx context.Context, t *core.Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := s.DB.QueryRow(ctx, `
		INSERT INTO templates(id, business_id, channel, name, content)
		VALUES($1,$2,$3,$4,$5)
		RETURNING created_at
	`, t.ID, t.BusinessID, t.Channel, t.Name, t.Content).Scan(&t.CreatedAt)
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

func (s *Postgres) GetTemplate(ctx context.Context, businessID, id string) (*core.Template, error) {
	var t core.Template
	err := s.DB.QueryRow(ctx, `
		SELECT id, business_id, channel, name, content, created_at
		FROM templates WHERE business_id=$1 AND id=$2
	`, businessID, id).Scan(&t.ID, &t.BusinessID, &t.Channel, &t.Name, &t.Content, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- routing ---

func (s *Postgres) ProvisionRoute(ctx context.Context, r *core.ChannelRoute) error {
	err := s.DB.QueryRow(ctx, `
		INSERT INTO channel_routes(channel, identity, business_id)
		VALUES($1,$2,$3)
		RETURNING created_at
	`, r.Channel, r.Identity, r.BusinessID).Scan(&r.CreatedAt)
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

func (s *Postgres) BusinessForIdentity(ctx context.Context, ch core.Channel, identity string) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
		SELECT business_id FROM channel_routes WHERE channel=$1 AND identity=$2
	`, ch, identity).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", core.ErrNotFound
	}
	return id, err
}

func (s *Postgres) IdentityForBusiness(ctx context.Context, businessID string, ch core.Channel) (string, error) {
	var identity string
	err := s.DB.QueryRow(ctx, `
		SELECT identity FROM channel_routes WHERE business_id=$1 AND channel=$2
		ORDER BY created_at LIMIT 1
	`, businessID, ch).Scan(&identity)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", core.ErrNotFound
	}
	return identity, err
}

var _ Store = (*Postgres)(nil)
