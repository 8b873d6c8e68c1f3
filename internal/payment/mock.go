package payment

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) TransferFunds(ctx context.Context, destination string, amount float64, currency string) (Result, error) {
	args := m.Called(ctx, destination, amount, currency)
	return args.Get(0).(Result), args.Error(1)
}
