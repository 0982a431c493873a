package alerts

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaNotifier_PublishesKeyedEvent(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaNotifier{writer: w, timeout: time.Second}

	a := &Alert{ID: "alert_1", AccountID: "acct-9", Type: TypeComplianceIssue, Severity: SeverityCritical}
	require.NoError(t, k.Notify(context.Background(), Event{Kind: EventCreated, Alert: a, At: fixedNow}))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "acct-9", string(msg.Key))
	assert.Equal(t, fixedNow, msg.Time)

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, EventCreated, ev.Kind)
	assert.Equal(t, "alert_1", ev.Alert.ID)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "alert.created", headers["event"])
	assert.Equal(t, "critical", headers["severity"])

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaNotifier_ConfiguresWriter(t *testing.T) {
	k := NewKafkaNotifier([]string{"localhost:9092"}, "risk.alerts")
	w, ok := k.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "risk.alerts", w.Topic)
	assert.Equal(t, "kafka", k.Name())
}
