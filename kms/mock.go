package kms

import (
	"context"

	"github.com/ruteri/tee-key-rotation/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockKeyDeriver mocks the interfaces.KeyDeriver interface
type MockKeyDeriver struct {
	mock.Mock
}

// DeriveKeys mocks the DeriveKeys method
func (m *MockKeyDeriver) DeriveKeys(ctx context.Context, pair interfaces.KeyPair) (*interfaces.KeyMaterial, error) {
	args := m.Called(ctx, pair)
	material, _ := args.Get(0).(*interfaces.KeyMaterial)
	return material, args.Error(1)
}
