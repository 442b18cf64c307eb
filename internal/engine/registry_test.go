package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
	"github.com/fairyhunter13/task-scheduler/internal/engine"
)

func TestRegistry_Resolve(t *testing.T) {
	orderHandler := &stubHandler{taskType: domain.TypeOrderCancel}
	refundHandler := &stubHandler{taskType: domain.TypePaymentRefund}
	r := engine.NewRegistry(orderHandler, refundHandler)

	h, err := r.Resolve(domain.TypeOrderCancel)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeOrderCancel, h.Type())

	_, err = r.Resolve(domain.TypeWebhookNotification)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	first := &stubHandler{taskType: domain.TypeOrderCancel}
	r := engine.NewRegistry(first)

	second := &stubHandler{taskType: domain.TypeOrderCancel}
	r.Register(second)

	h, err := r.Resolve(domain.TypeOrderCancel)
	require.NoError(t, err)
	assert.Same(t, second, h.(*stubHandler))
	assert.Len(t, r.Types(), 1)
}
