package database

import (
	"github.com/partyware/go-partysync/internal/types"
)

// ArchiveRepository persists authoritative snapshots so conversations
// and party history survive a session restart. Writes are best-effort
// write-behind from the reconciler; the in-memory store stays the
// source of truth for the running session.
type ArchiveRepository interface {
	Ping() error
	SaveParty(p types.Party) error
	SaveApplicant(partyId string, a types.Applicant) error
	DeleteParty(partyId string) error
	SaveMessage(m types.Message) error
	UpdateMessageStatus(messageId string, status types.MessageStatus) error
	RecentMessages(userId, limit int) ([]types.Message, error)
	Close() error
}
