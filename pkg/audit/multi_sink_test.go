package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiSink_Write(t *testing.T) {
	t.Run("writes to all sinks", func(t *testing.T) {
		first := &captureSink{}
		second := &captureSink{}
		multi := NewMultiSink(first, second)

		require.NoError(t, multi.Write(context.Background(), &AuthEvent{ID: "1", Kind: KindLogin}))
		assert.Len(t, first.events, 1)
		assert.Len(t, second.events, 1)
	})

	t.Run("continues past a failing sink", func(t *testing.T) {
		failing := &captureSink{err: errors.New("db down")}
		healthy := &captureSink{}
		multi := NewMultiSink(failing, healthy)

		err := multi.Write(context.Background(), &AuthEvent{ID: "1", Kind: KindLogout})
		assert.EqualError(t, err, "db down")
		assert.Len(t, healthy.events, 1)
	})

	t.Run("no sinks", func(t *testing.T) {
		assert.NoError(t, NewMultiSink().Write(context.Background(), &AuthEvent{}))
	})
}

func TestLoggerSink_Write(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := NewLoggerSink(logger)

	principal := "7d1c"
	err := sink.Write(context.Background(), &AuthEvent{
		ID:             "01A",
		Kind:           KindSessionRefresh,
		Success:        true,
		PrincipalID:    &principal,
		ClientMetadata: map[string]interface{}{"ip_address": "10.0.0.7"},
	})
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "auth event", entry.Message)
	assert.Equal(t, KindSessionRefresh, entry.Data["event_kind"])
	assert.Equal(t, "7d1c", entry.Data["principal_id"])
	assert.Equal(t, "10.0.0.7", entry.Data["meta_ip_address"])
	assert.NotContains(t, entry.Data, "email")
}
