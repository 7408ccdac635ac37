package telemetry

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/watchkeeper/internal/testutil"
	"github.com/solatis/watchkeeper/internal/types"
)

func TestNATSPublisher_State(t *testing.T) {
	ns := testutil.RunNATS(t)

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("watchkeeper.state.front", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := DialNATS(ns.ClientURL(), "", nil)
	require.NoError(t, err)
	defer pub.Close()

	pub.PublishState("front", true, &types.StateDetail{RuleID: "r", URL: "https://nvr"})

	select {
	case m := <-msgs:
		var got StateMessage
		require.NoError(t, json.Unmarshal(m.Data, &got))
		assert.Equal(t, types.DeviceID("front"), got.Device)
		assert.True(t, got.Active)
		require.NotNil(t, got.Detail)
		assert.Equal(t, types.RuleID("r"), got.Detail.RuleID)
	case <-time.After(5 * time.Second):
		t.Fatal("no state message received")
	}
}

func TestNATSPublisher_Detections(t *testing.T) {
	ns := testutil.RunNATS(t)

	conn, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer conn.Close()

	msgs := make(chan *nats.Msg, 1)
	_, err = conn.ChanSubscribe("wk.detections.back", msgs)
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	pub := NewNATSPublisher(conn, "wk", nil)
	pub.PublishDetections("back", types.DetectionBatch{
		Timestamp:  time.UnixMilli(1000),
		Detections: []types.DetectionResult{{ClassName: "ufo"}},
	})
	require.NoError(t, conn.Flush())

	select {
	case m := <-msgs:
		var got DetectionsMessage
		require.NoError(t, json.Unmarshal(m.Data, &got))
		assert.Equal(t, int64(1000), got.Timestamp)
		assert.Equal(t, "ufo", got.Detections[0].ClassName)
	case <-time.After(5 * time.Second):
		t.Fatal("no detections message received")
	}
	assert.NoError(t, pub.Close(), "borrowed connection is not closed")
	assert.False(t, conn.IsClosed())
}

func TestKafkaPublisher(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "wk-state", msg.Topic)
		key, _ := msg.Key.Encode()
		assert.Equal(t, "front", string(key))
		return nil
	})
	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "wk-detections", msg.Topic)
		return nil
	})

	pub := NewKafkaPublisher(producer, "wk-state", "wk-detections", nil)
	pub.PublishState("front", false, nil)
	pub.PublishDetections("front", types.DetectionBatch{})
	require.NoError(t, pub.Close())
}

func TestFanout(t *testing.T) {
	a, b := &testutil.RecordingPublisher{}, &testutil.RecordingPublisher{}
	f := Fanout{Nop{}, a, b}

	f.PublishState("front", true, nil)
	f.PublishDetections("front", types.DetectionBatch{Detections: []types.DetectionResult{{ClassName: "person"}}})

	assert.Equal(t, 1, a.Count(true))
	assert.Equal(t, 1, b.Count(true))
	assert.Len(t, b.Detections(), 1)
	assert.NoError(t, f.Close())
}
