package transport

import (
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify-backed SocketTransport for tests. Inbound
// events are pushed onto EventCh.
type MockTransport struct {
	mock.Mock
	EventCh chan Event
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		EventCh: make(chan Event, 64),
	}
}

func (m *MockTransport) Emit(evt Event) error {
	args := m.Called(evt)
	return args.Error(0)
}

func (m *MockTransport) Events() <-chan Event {
	return m.EventCh
}

func (m *MockTransport) Connected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockTransport) Close() error {
	args := m.Called()
	return args.Error(0)
}
