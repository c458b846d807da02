package publisher

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db2q/db2q/encoding"
)

func (MsgpackTransformer) decode(data []byte, event *PushEvent) error {
	return encoding.Unmarshal(data, event)
}

func TestJSONTransformer(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	event := NewPushEvent(testTopic, 17, []byte("hello"), at, 3)
	event.SeqNum = 9

	data, err := JSONTransformer{}.Transform(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(9), decoded["seq"])
	assert.Equal(t, testTopic.String(), decoded["topic"])
	assert.Equal(t, float64(17), decoded["key"])
	assert.Equal(t, "aGVsbG8=", decoded["value"])
	assert.Equal(t, "2024-05-01T12:00:00Z", decoded["pushed_at"])
	assert.Equal(t, float64(3), decoded["node_id"])
	assert.Equal(t, "application/json", JSONTransformer{}.ContentType())
}

func TestMsgpackTransformer(t *testing.T) {
	event := NewPushEvent(testTopic, 5, []byte{0, 1, 2}, time.Unix(0, 1234), 8)

	data, err := MsgpackTransformer{}.Transform(event)
	require.NoError(t, err)

	var decoded PushEvent
	require.NoError(t, MsgpackTransformer{}.decode(data, &decoded))
	assert.Equal(t, event, decoded)
}

func TestCreateTransformer(t *testing.T) {
	tr, err := createTransformer("")
	require.NoError(t, err)
	assert.IsType(t, JSONTransformer{}, tr)

	tr, err = createTransformer(FormatMsgpack)
	require.NoError(t, err)
	assert.IsType(t, MsgpackTransformer{}, tr)

	_, err = createTransformer("xml")
	assert.Error(t, err)
}
