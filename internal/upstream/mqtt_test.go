package upstream

import (
	"testing"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/wifiloc/wifiloc/internal/ingest/batch"
	"github.com/wifiloc/wifiloc/pkg/logx"
)

type fakeMessage struct {
	payload []byte
	acked   bool
}

func (m *fakeMessage) Duplicate() bool { return false }
func (m *fakeMessage) Qos() byte { return 1 }
func (m *fakeMessage) Retained() bool { return false }
func (m *fakeMessage) Topic() string { return "wifiloc/scans" }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte { return m.payload }
func (m *fakeMessage) Ack() { m.acked = true }

func newTestConsumer() *Consumer {
	acc := batch.New(func(batch.Batch) {})
	return NewConsumer(DefaultConfig(), logx.New("error"), acc)
}

func TestOnMessageAssignsMonotonicOffsets(t *testing.T) {
	c := newTestConsumer()
	handler := c.onMessage("wifiloc/scans")

	msg1 := &fakeMessage{payload: []byte("scan-1")}
	msg2 := &fakeMessage{payload: []byte("scan-2")}

	handler(nil, msg1)
	handler(nil, msg2)

	require.Len(t, c.pending, 2)
	require.Contains(t, c.pending, uint64(1))
	require.Contains(t, c.pending, uint64(2))
}

func TestAckAcknowledgesAtOrBelowOffset(t *testing.T) {
	c := newTestConsumer()
	handler := c.onMessage("wifiloc/scans")

	msg1 := &fakeMessage{payload: []byte("scan-1")}
	msg2 := &fakeMessage{payload: []byte("scan-2")}
	msg3 := &fakeMessage{payload: []byte("scan-3")}

	handler(nil, msg1)
	handler(nil, msg2)
	handler(nil, msg3)

	c.Ack(2)

	require.True(t, msg1.acked)
	require.True(t, msg2.acked)
	require.False(t, msg3.acked)
	require.Len(t, c.pending, 1)
	require.Contains(t, c.pending, uint64(3))
}

func TestAckIsIdempotentForAlreadyAckedOffsets(t *testing.T) {
	c := newTestConsumer()
	handler := c.onMessage("wifiloc/scans")
	msg := &fakeMessage{payload: []byte("scan-1")}
	handler(nil, msg)

	c.Ack(1)
	require.NotPanics(t, func() { c.Ack(1) })
	require.Empty(t, c.pending)
}

var _ MQTT.Message = (*fakeMessage)(nil)
