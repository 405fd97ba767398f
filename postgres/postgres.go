package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/GetStream/unified-inbox/adapter"
	"github.com/GetStream/unified-inbox/annotation"
	"github.com/GetStream/unified-inbox/inbox"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Close closes the connection pool.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// CreateSchema creates every table that does not exist yet.
func (pg *Postgres) CreateSchema(ctx context.Context) error {
	if _, err := pg.bun.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	for _, m := range models {
		if _, err := pg.bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table %T: %w", m, err)
		}
	}
	if _, err := pg.bun.NewCreateIndex().
		Model((*message)(nil)).
		Index("messages_thread_idx").
		IfNotExists().
		Column("thread_type", "thread_id", "created_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// withReceipts joins the viewer's read state and dismissal for the source
// table aliased c.
func withReceipts(q *bun.SelectQuery, t inbox.MessageType, userID string) *bun.SelectQuery {
	return q.
		Join("LEFT JOIN read_states AS rs ON rs.thread_type = ? AND rs.thread_id = c.id::text AND rs.user_id = ?", t, userID).
		Join("LEFT JOIN dismissals AS d ON d.thread_type = ? AND d.thread_id = c.id::text AND d.user_id = ?", t, userID).
		ColumnExpr("d.user_id IS NOT NULL AS archived")
}

// ListSMSConversations returns the SMS conversations owned by userID.
// Inbound messages newer than the read receipt count as unread.
func (pg *Postgres) ListSMSConversations(ctx context.Context, userID string, since *time.Time) ([]inbox.SMSConversation, error) {
	var rows []smsConversation
	q := pg.bun.NewSelect().
		Model(&rows).
		ColumnExpr("c.*").
		ColumnExpr(`(SELECT count(*) FROM messages AS m
			WHERE m.thread_type = ? AND m.thread_id = c.id::text AND m.sender_id IS NULL
			AND m.created_at > COALESCE(rs.read_at, '-infinity')) AS unread_count`, inbox.TypeSMS).
		Where("c.owner_id = ?", userID).
		Order("c.last_activity_at DESC")
	q = withReceipts(q, inbox.TypeSMS, userID)
	if since != nil {
		q = q.Where("c.last_activity_at > ?", *since)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]inbox.SMSConversation, len(rows))
	for i, r := range rows {
		out[i] = r.Record()
	}
	return out, nil
}

// ListTeamConversations returns the team chats userID is a member of.
func (pg *Postgres) ListTeamConversations(ctx context.Context, userID string, since *time.Time) ([]inbox.TeamChatConversation, error) {
	var rows []teamConversation
	q := pg.bun.NewSelect().
		Model(&rows).
		ColumnExpr("c.*").
		ColumnExpr(`ARRAY(SELECT u.name FROM team_members AS tm JOIN users AS u ON u.id = tm.user_id
			WHERE tm.conversation_id = c.id AND tm.user_id <> ? ORDER BY u.name) AS participants`, userID).
		ColumnExpr("COALESCE(ls.name, '') AS last_sender_name").
		ColumnExpr("rs.read_at AS last_read_at").
		Join("LEFT JOIN users AS ls ON ls.id = c.last_sender_id").
		Where("EXISTS (SELECT 1 FROM team_members AS tm WHERE tm.conversation_id = c.id AND tm.user_id = ?)", userID).
		Order("c.created_at DESC")
	q = withReceipts(q, inbox.TypeTeamChat, userID)
	if since != nil {
		q = q.Where("COALESCE(c.last_message_at, c.created_at) > ?", *since)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]inbox.TeamChatConversation, len(rows))
	for i, r := range rows {
		out[i] = r.Record(userID)
	}
	return out, nil
}

// ListTicketThreads returns the comment threads of tickets assigned to
// userID. Comments by others newer than the read receipt count as unread.
func (pg *Postgres) ListTicketThreads(ctx context.Context, userID string, since *time.Time) ([]inbox.TicketThread, error) {
	var rows []ticket
	q := pg.bun.NewSelect().
		Model(&rows).
		ColumnExpr("c.*").
		ColumnExpr(`(SELECT count(*) FROM messages AS m
			WHERE m.thread_type = ? AND m.thread_id = c.id::text AND m.sender_id IS DISTINCT FROM ?
			AND m.created_at > COALESCE(rs.read_at, '-infinity')) AS unread_comments`, inbox.TypeTicketChat, userID).
		Where("c.assignee_id = ?", userID).
		Order("c.last_activity_at DESC")
	q = withReceipts(q, inbox.TypeTicketChat, userID)
	if since != nil {
		q = q.Where("c.last_activity_at > ?", *since)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]inbox.TicketThread, len(rows))
	for i, r := range rows {
		out[i] = r.Record()
	}
	return out, nil
}

// ListAnnouncements returns every announcement with userID's receipts.
func (pg *Postgres) ListAnnouncements(ctx context.Context, userID string, since *time.Time) ([]inbox.Announcement, error) {
	var rows []announcement
	q := pg.bun.NewSelect().
		Model(&rows).
		ColumnExpr("c.*").
		ColumnExpr("COALESCE(a.name, '') AS author_name").
		ColumnExpr("rs.read_at, rs.acknowledged_at").
		Join("LEFT JOIN users AS a ON a.id = c.author_id").
		Order("c.published_at DESC")
	q = withReceipts(q, inbox.TypeAnnouncement, userID)
	if since != nil {
		q = q.Where("c.published_at > ?", *since)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]inbox.Announcement, len(rows))
	for i, r := range rows {
		out[i] = r.Record()
	}
	return out, nil
}

// ListNotifications returns userID's system notifications.
func (pg *Postgres) ListNotifications(ctx context.Context, userID string, since *time.Time) ([]inbox.SystemNotification, error) {
	var rows []notification
	q := pg.bun.NewSelect().
		Model(&rows).
		ColumnExpr("c.*").
		ColumnExpr("rs.read_at").
		Where("c.user_id = ?", userID).
		Order("c.created_at DESC")
	q = withReceipts(q, inbox.TypeNotification, userID)
	if since != nil {
		q = q.Where("c.created_at > ?", *since)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]inbox.SystemNotification, len(rows))
	for i, r := range rows {
		out[i] = r.Record()
	}
	return out, nil
}

// ListMessages returns the newest messages of a thread.
func (pg *Postgres) ListMessages(ctx context.Context, ref inbox.ConversationRef, limit int, excludeIDs ...string) ([]inbox.Message, error) {
	var msgs []message
	q := pg.bun.NewSelect().
		Model(&msgs).
		ColumnExpr("m.*").
		ColumnExpr("COALESCE(u.name, '') AS sender_name").
		Join("LEFT JOIN users AS u ON u.id = m.sender_id").
		Where("m.thread_type = ? AND m.thread_id = ?", ref.Type, ref.SourceID).
		Order("m.created_at DESC").
		Limit(limit)

	if len(excludeIDs) > 0 {
		q = q.Where("m.id::text NOT IN (?)", bun.In(excludeIDs))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]inbox.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.InboxMessage(ref)
	}
	return out, nil
}

// GetMessages returns the messages of a thread with the given ids.
func (pg *Postgres) GetMessages(ctx context.Context, ref inbox.ConversationRef, ids []string) ([]inbox.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var msgs []message
	if err := pg.bun.NewSelect().
		Model(&msgs).
		ColumnExpr("m.*").
		ColumnExpr("COALESCE(u.name, '') AS sender_name").
		Join("LEFT JOIN users AS u ON u.id = m.sender_id").
		Where("m.thread_type = ? AND m.thread_id = ?", ref.Type, ref.SourceID).
		Where("m.id::text IN (?)", bun.In(ids)).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]inbox.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.InboxMessage(ref)
	}
	return out, nil
}

// InsertMessage inserts a reply and updates the thread's last activity. A
// retried send with the same client id returns the stored message.
func (pg *Postgres) InsertMessage(ctx context.Context, ref inbox.ConversationRef, nm adapter.NewMessage) (inbox.Message, error) {
	m := &message{
		ClientID:   nm.ClientID,
		ThreadType: string(ref.Type),
		ThreadID:   ref.SourceID,
		SenderID:   nm.SenderID,
		Body:       nm.Body,
		Transcript: nm.Transcript,
		ReplyToID:  nm.ReplyToID,
	}
	if a := nm.Attachment; a != nil {
		m.AttachmentURL = a.URL
		m.AttachmentName = a.Name
		m.AttachmentSize = a.Size
		m.AttachmentMimeType = a.MimeType
		m.AttachmentDuration = a.DurationSeconds
	}

	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if nm.ClientID != "" {
			var prev message
			err := tx.NewSelect().Model(&prev).Where("m.client_id = ?", nm.ClientID).Scan(ctx)
			if err == nil {
				*m = prev
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("select: %w", err)
			}
		}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if err := touchThread(ctx, tx, ref, m); err != nil {
			return err
		}
		return upsertRead(ctx, tx, ref, m.SenderID, m.CreatedAt)
	})
	if err != nil {
		return inbox.Message{}, err
	}
	return m.InboxMessage(ref), nil
}

// touchThread denormalizes the new message onto the source record.
func touchThread(ctx context.Context, tx bun.Tx, ref inbox.ConversationRef, m *message) error {
	var q *bun.UpdateQuery
	switch ref.Type {
	case inbox.TypeSMS:
		q = tx.NewUpdate().Model((*smsConversation)(nil)).
			Set("last_message = ?", preview(m)).
			Set("last_activity_at = ?", m.CreatedAt)
	case inbox.TypeTeamChat:
		q = tx.NewUpdate().Model((*teamConversation)(nil)).
			Set("last_message = ?", preview(m)).
			Set("last_sender_id = ?", m.SenderID).
			Set("last_message_at = ?", m.CreatedAt)
	case inbox.TypeTicketChat:
		q = tx.NewUpdate().Model((*ticket)(nil)).
			Set("last_comment = ?", preview(m)).
			Set("last_commenter = (SELECT name FROM users WHERE id = ?)", m.SenderID).
			Set("last_activity_at = ?", m.CreatedAt)
	case inbox.TypeAnnouncement, inbox.TypeNotification:
		return &inbox.CapabilityError{Type: ref.Type, Op: "reply"}
	default:
		panic("postgres: unhandled message type " + string(ref.Type))
	}
	res, err := q.Where("id = ?", ref.SourceID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("thread %s: %w", ref, inbox.ErrNotFound)
	}
	return nil
}

func preview(m *message) string {
	if s := strings.TrimSpace(m.Body); s != "" {
		return s
	}
	if m.AttachmentName != "" {
		return "📎 " + m.AttachmentName
	}
	return ""
}

func upsertRead(ctx context.Context, db bun.IDB, ref inbox.ConversationRef, userID string, at time.Time) error {
	if userID == "" {
		return nil
	}
	rs := &readState{UserID: userID, ThreadType: string(ref.Type), ThreadID: ref.SourceID, ReadAt: &at}
	if _, err := db.NewInsert().
		Model(rs).
		On("CONFLICT (user_id, thread_type, thread_id) DO UPDATE").
		Set("read_at = EXCLUDED.read_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("upsert read state: %w", err)
	}
	return nil
}

// ResolveUsers returns the display names of ids. Unknown ids are omitted.
func (pg *Postgres) ResolveUsers(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	var users []user
	if err := pg.bun.NewSelect().Model(&users).Where("u.id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make(map[string]string, len(users))
	for _, u := range users {
		out[u.ID] = u.Name
	}
	return out, nil
}

// SetRead records or clears userID's read receipt. Receipts are upserts, so
// concurrent sessions settle on the last write.
func (pg *Postgres) SetRead(ctx context.Context, ref inbox.ConversationRef, userID string, read bool) error {
	if read {
		return upsertRead(ctx, pg.bun, ref, userID, time.Now().UTC())
	}
	rs := &readState{UserID: userID, ThreadType: string(ref.Type), ThreadID: ref.SourceID}
	if _, err := pg.bun.NewInsert().
		Model(rs).
		On("CONFLICT (user_id, thread_type, thread_id) DO UPDATE").
		Set("read_at = NULL").
		Exec(ctx); err != nil {
		return fmt.Errorf("upsert read state: %w", err)
	}
	return nil
}

// Acknowledge records userID's acknowledgment. The first acknowledgment
// time is kept.
func (pg *Postgres) Acknowledge(ctx context.Context, ref inbox.ConversationRef, userID string) error {
	now := time.Now().UTC()
	rs := &readState{UserID: userID, ThreadType: string(ref.Type), ThreadID: ref.SourceID, AcknowledgedAt: &now}
	if _, err := pg.bun.NewInsert().
		Model(rs).
		On("CONFLICT (user_id, thread_type, thread_id) DO UPDATE").
		Set("acknowledged_at = COALESCE(rs.acknowledged_at, EXCLUDED.acknowledged_at)").
		Exec(ctx); err != nil {
		return fmt.Errorf("upsert read state: %w", err)
	}
	return nil
}

// SetDismissed archives or restores a thread for userID.
func (pg *Postgres) SetDismissed(ctx context.Context, ref inbox.ConversationRef, userID string, dismissed bool) error {
	if dismissed {
		d := &dismissal{UserID: userID, ThreadType: string(ref.Type), ThreadID: ref.SourceID}
		if _, err := pg.bun.NewInsert().Model(d).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	}
	if _, err := pg.bun.NewDelete().
		Model((*dismissal)(nil)).
		Where("user_id = ? AND thread_type = ? AND thread_id = ?", userID, ref.Type, ref.SourceID).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// ToggleReaction removes userID's emoji from a message, or adds it when
// there was none.
func (pg *Postgres) ToggleReaction(ctx context.Context, ref inbox.ConversationRef, messageID, userID, emoji string) (bool, error) {
	var added bool
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*reaction)(nil)).
			Where("thread_type = ? AND thread_id = ? AND message_id = ? AND user_id = ? AND emoji = ?",
				ref.Type, ref.SourceID, messageID, userID, emoji).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete reaction: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete reaction rows: %w", err)
		}
		if affected > 0 {
			return nil
		}
		r := &reaction{ThreadType: string(ref.Type), ThreadID: ref.SourceID, MessageID: messageID, UserID: userID, Emoji: emoji}
		if _, err := tx.NewInsert().Model(r).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert reaction: %w", err)
		}
		added = true
		return nil
	})
	return added, err
}

// ListReactions returns the reaction rows of a thread, optionally limited
// to messageIDs.
func (pg *Postgres) ListReactions(ctx context.Context, ref inbox.ConversationRef, messageIDs ...string) ([]annotation.ReactionRow, error) {
	var rows []reaction
	q := pg.bun.NewSelect().
		Model(&rows).
		Where("r.thread_type = ? AND r.thread_id = ?", ref.Type, ref.SourceID).
		Order("r.created_at ASC")
	if len(messageIDs) > 0 {
		q = q.Where("r.message_id IN (?)", bun.In(messageIDs))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]annotation.ReactionRow, len(rows))
	for i, r := range rows {
		out[i] = r.Row()
	}
	return out, nil
}

// TogglePin unpins a pinned message, or pins it.
func (pg *Postgres) TogglePin(ctx context.Context, ref inbox.ConversationRef, messageID string, messageType inbox.MessageType, userID string) (bool, error) {
	var pinned bool
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*pin)(nil)).
			Where("thread_type = ? AND thread_id = ? AND message_id = ?", ref.Type, ref.SourceID, messageID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete pin: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete pin rows: %w", err)
		}
		if affected > 0 {
			return nil
		}
		p := &pin{
			ThreadType:  string(ref.Type),
			ThreadID:    ref.SourceID,
			MessageID:   messageID,
			MessageType: string(messageType),
			PinnedBy:    userID,
		}
		if _, err := tx.NewInsert().Model(p).Exec(ctx); err != nil {
			return fmt.Errorf("insert pin: %w", err)
		}
		pinned = true
		return nil
	})
	return pinned, err
}

// ListPins returns the pins of a thread, most recent first.
func (pg *Postgres) ListPins(ctx context.Context, ref inbox.ConversationRef) ([]annotation.PinnedMessage, error) {
	var rows []pin
	if err := pg.bun.NewSelect().
		Model(&rows).
		Where("p.thread_type = ? AND p.thread_id = ?", ref.Type, ref.SourceID).
		Order("p.pinned_at DESC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]annotation.PinnedMessage, len(rows))
	for i, p := range rows {
		out[i] = p.Pinned()
	}
	return out, nil
}

var (
	_ inbox.Sources    = (*Postgres)(nil)
	_ adapter.Backend  = (*Postgres)(nil)
	_ annotation.Store = (*Postgres)(nil)
)
