package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"hr.device.*.reading", "hr.device.a.reading", true},
		{"hr.device.*.reading", "hr.device.a.b.reading", false},
		{"hr.device.*.reading", "hr.device.reading", false},
		{"hr.>", "hr.device.a.reading", true},
		{"hr.>", "hr", false},
		{"hr.device.a.reading", "hr.device.a.reading", true},
		{"hr.device.a.reading", "hr.device.b.reading", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchSubject(tt.pattern, tt.subject), "%s vs %s", tt.pattern, tt.subject)
	}
}

func TestMockNATSClient_WildcardDelivery(t *testing.T) {
	bus := NewMockNATSClient()
	ctx, cancel := context.WithCancel(context.Background())

	var subjects []string
	require.NoError(t, bus.Subscribe(ctx, "hr.device.*.reading", func(_ context.Context, subject string, _ []byte) {
		subjects = append(subjects, subject)
	}))

	require.NoError(t, bus.Publish(context.Background(), ReadingSubject("a"), ReadingJSON("a", 70)))
	require.NoError(t, bus.Publish(context.Background(), "hr.other", []byte("{}")))
	assert.Equal(t, []string{"hr.device.a.reading"}, subjects)
	assert.Equal(t, 1, bus.GetMessageCount("hr.other"))

	cancel()
	require.NoError(t, bus.Publish(context.Background(), ReadingSubject("b"), ReadingJSON("b", 71)))
	assert.Len(t, subjects, 1, "cancelled subscription must not receive")

	require.NoError(t, bus.Close())
	assert.Error(t, bus.Publish(context.Background(), "x", nil))
}
