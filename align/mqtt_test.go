package align

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_PublishResult(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	pub := NewPublisher(client, "lexicon")

	require.NoError(t, pub.PublishResult("en-de", testRecord()))

	msgs := client.GetPublishedMessages()
	require.Len(t, msgs, 2)

	assert.Equal(t, "lexicon/en-de/result", msgs[0].Topic)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.True(t, msgs[0].Retain)
	var result resultMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &result))
	assert.Equal(t, "en-de", result.Name)
	assert.Equal(t, "converged", result.Status)
	assert.Equal(t, 2, result.TotalPairs)
	assert.Len(t, result.Pairs, 2)
	assert.NotZero(t, result.Timestamp)

	assert.Equal(t, "lexicon/en-de/status", msgs[1].Topic)
	var status statusMessage
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &status))
	assert.Equal(t, "converged", status.Status)
	assert.Empty(t, status.Error)

	last, ok := pub.LastStatus("en-de")
	require.True(t, ok)
	assert.Equal(t, "converged", last)
	_, ok = pub.LastStatus("en-fr")
	assert.False(t, ok)
}

func TestPublisher_CapsPairs(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	pub := NewPublisher(client, "")

	rec := testRecord()
	for i := 0; i < 3*DefaultPublishPairs; i++ {
		rec.Pairs = append(rec.Pairs, RecordPair{Source: i, Target: i, Score: 0.1})
	}
	require.NoError(t, pub.PublishResult("big", rec))

	msgs := client.GetPublishedMessages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "vecalign/big/result", msgs[0].Topic)

	var result resultMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &result))
	assert.Len(t, result.Pairs, DefaultPublishPairs)
	assert.Equal(t, len(rec.Pairs), result.TotalPairs)
}

func TestPublisher_Errors(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		pub := NewPublisher(NewMockClient(), "x")
		assert.EqualError(t, pub.PublishResult("a", testRecord()), "MQTT client not connected")
	})

	t.Run("nil client", func(t *testing.T) {
		pub := NewPublisher(nil, "x")
		assert.Error(t, pub.PublishResult("a", testRecord()))
	})

	t.Run("missing name", func(t *testing.T) {
		client := NewMockClient()
		client.SetConnected(true)
		assert.EqualError(t, NewPublisher(client, "x").PublishResult("", testRecord()), "result name is required")
	})

	t.Run("publish failure", func(t *testing.T) {
		client := NewMockClient()
		client.SetConnected(true)
		client.SetPublishError(errors.New("broker full"))
		pub := NewPublisher(client, "x")

		err := pub.PublishResult("a", testRecord())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "x/a/result")
		assert.Contains(t, err.Error(), "broker full")
		_, ok := pub.LastStatus("a")
		assert.False(t, ok)
	})
}

func TestPublisher_StatusCarriesError(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)

	rec := testRecord()
	rec.Status = StatusStalled.String()
	rec.Error = (&Result{Status: StatusStalled, Iterations: 2}).Err().Error()
	require.NoError(t, NewPublisher(client, "x").PublishResult("run", rec))

	msgs := client.GetPublishedMessages()
	require.Len(t, msgs, 2)
	var status statusMessage
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &status))
	assert.Equal(t, "stalled", status.Status)
	assert.Contains(t, status.Error, "empty dictionary")
}

// dialRecorder captures the options ConnectMQTT builds.
type dialRecorder struct {
	opts *mqtt.ClientOptions
}

func withDialer(t *testing.T, client mqtt.Client) *dialRecorder {
	t.Helper()
	rec := &dialRecorder{}
	orig := mqttDialer
	mqttDialer = func(opts *mqtt.ClientOptions) mqtt.Client {
		rec.opts = opts
		return client
	}
	t.Cleanup(func() { mqttDialer = orig })
	return rec
}

func TestConnectMQTT_NoBroker(t *testing.T) {
	client, err := ConnectMQTT(context.Background(), MQTTConfig{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestConnectMQTT_UsesConfig(t *testing.T) {
	mock := NewMockClient()
	dial := withDialer(t, mock)

	client, err := ConnectMQTT(context.Background(), MQTTConfig{
		Broker:   "tcp://broker:1883",
		ClientID: "aligner-1",
		Username: "user",
		Password: "pass",
	}, NoopLogger())
	require.NoError(t, err)
	assert.Same(t, mock, client)
	assert.True(t, mock.IsConnected())
	assert.Equal(t, 1, mock.ConnectAttempts())

	require.NotNil(t, dial.opts)
	require.Len(t, dial.opts.Servers, 1)
	assert.Equal(t, "broker:1883", dial.opts.Servers[0].Host)
	assert.Equal(t, "aligner-1", dial.opts.ClientID)
	assert.Equal(t, "user", dial.opts.Username)
	assert.True(t, dial.opts.AutoReconnect)
}

func TestConnectMQTT_DefaultClientID(t *testing.T) {
	dial := withDialer(t, NewMockClient())
	_, err := ConnectMQTT(context.Background(), MQTTConfig{Broker: "tcp://broker:1883"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "vecalign", dial.opts.ClientID)
}

func TestConnectMQTT_GivesUpWhenCanceled(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnectError(fmt.Errorf("connection refused"))
	withDialer(t, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client, err := ConnectMQTT(ctx, MQTTConfig{Broker: "tcp://broker:1883"}, nil)
	require.Error(t, err)
	assert.Nil(t, client)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, mock.ConnectAttempts())
	assert.False(t, mock.IsConnected())
}
