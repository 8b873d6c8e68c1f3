package database

import (
	"time"

	"github.com/partyware/go-partysync/internal/types"
)

func (db *PgArchiveRepository) SaveParty(p types.Party) error {
	_, err := db.conn.Exec(
		"INSERT INTO parties (id, title, description, type, creator_id, status, payment_mode, fee, currency, opening_time, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) "+
			"ON CONFLICT (id) DO UPDATE SET title = $2, description = $3, status = $6, updated_at = $11",
		p.Id,
		p.Title,
		p.Description,
		p.Type,
		p.CreatorId,
		p.Status,
		p.PaymentMode,
		p.Fee,
		p.Currency,
		p.OpeningTime,
		time.Now().UTC(),
	)

	return err
}

func (db *PgArchiveRepository) SaveApplicant(partyId string, a types.Applicant) error {
	_, err := db.conn.Exec(
		"INSERT INTO applicants (id, party_id, applier_id, message, status, sticker_locked, sticker_sold, applied_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) "+
			"ON CONFLICT (id) DO UPDATE SET status = $5, sticker_locked = $6, sticker_sold = $7, updated_at = $9",
		a.Id,
		partyId,
		a.ApplierId,
		a.Message,
		a.Status,
		a.StickerLocked,
		a.StickerSold,
		a.AppliedAt,
		time.Now().UTC(),
	)

	return err
}

func (db *PgArchiveRepository) DeleteParty(partyId string) error {
	_, err := db.conn.Exec("DELETE FROM parties WHERE id = $1", partyId)
	return err
}

func (db *PgArchiveRepository) SaveMessage(m types.Message) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (id, sender_id, receiver_id, content, status, sent_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) "+
			"ON CONFLICT (id) DO UPDATE SET status = $5",
		m.Id,
		m.SenderId,
		m.ReceiverId,
		m.Content,
		m.Status,
		m.Timestamp,
	)

	return err
}

func (db *PgArchiveRepository) UpdateMessageStatus(messageId string, status types.MessageStatus) error {
	_, err := db.conn.Exec(
		"UPDATE messages SET status = $2 WHERE id = $1",
		messageId,
		status,
	)

	return err
}

// RecentMessages returns the newest messages involving the user, in
// send order.
func (db *PgArchiveRepository) RecentMessages(userId, limit int) ([]types.Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, sender_id, receiver_id, content, status, sent_at FROM messages "+
			"WHERE sender_id = $1 OR receiver_id = $1 "+
			"ORDER BY sent_at DESC LIMIT $2",
		userId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(
			&m.Id,
			&m.SenderId,
			&m.ReceiverId,
			&m.Content,
			&m.Status,
			&m.Timestamp,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query, oldest-first for the store.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}
