package mocks

import (
	"context"

	"scene-server/shared/interfaces"

	"github.com/stretchr/testify/mock"
)

// Mock TxRunner. По умолчанию исполняет fn с nil-транзакцией, чтобы сервисные
// тесты проверяли логику внутри транзакции без реальной базы.
type TxRunner struct {
	mock.Mock
	// Tx подставляется в fn вместо реальной транзакции (обычно nil).
	Tx interfaces.DBTX
}

func (m *TxRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.DBTX) error) error {
	args := m.Called(ctx, fn)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(ctx, m.Tx)
}
