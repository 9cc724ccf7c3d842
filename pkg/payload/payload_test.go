package payload_test

import (
	"testing"

	"github.com/aretw0/stepwise/pkg/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Deterministic(t *testing.T) {
	a, err := payload.Encode(payload.Bag{"b": "2", "a": "1"})
	require.NoError(t, err)
	b, err := payload.Encode(payload.Bag{"a": "1", "b": "2"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecode_Empty(t *testing.T) {
	bag, err := payload.Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, bag)

	data, err := payload.Encode(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestMerge(t *testing.T) {
	data, err := payload.Encode(payload.Bag{"source": "sms"})
	require.NoError(t, err)

	merged, err := payload.Merge(data, payload.Bag{"comment": "great"})
	require.NoError(t, err)

	bag, err := payload.Decode(merged)
	require.NoError(t, err)
	assert.Equal(t, "sms", bag.String("source"))
	assert.Equal(t, "great", bag.String("comment"))
	assert.Equal(t, "", bag.String("missing"))
}

func TestDecode_Garbage(t *testing.T) {
	_, err := payload.Decode([]byte{0xff, 0x00})
	assert.Error(t, err)
}
