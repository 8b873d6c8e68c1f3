package database

import (
	"github.com/stretchr/testify/mock"

	"github.com/partyware/go-partysync/internal/types"
)

type MockArchiveRepository struct {
	mock.Mock
}

func (m *MockArchiveRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockArchiveRepository) SaveParty(p types.Party) error {
	args := m.Called(p)
	return args.Error(0)
}
func (m *MockArchiveRepository) SaveApplicant(partyId string, a types.Applicant) error {
	args := m.Called(partyId, a)
	return args.Error(0)
}
func (m *MockArchiveRepository) DeleteParty(partyId string) error {
	args := m.Called(partyId)
	return args.Error(0)
}
func (m *MockArchiveRepository) SaveMessage(msg types.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockArchiveRepository) UpdateMessageStatus(messageId string, status types.MessageStatus) error {
	args := m.Called(messageId, status)
	return args.Error(0)
}
func (m *MockArchiveRepository) RecentMessages(userId, limit int) ([]types.Message, error) {
	args := m.Called(userId, limit)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockArchiveRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
