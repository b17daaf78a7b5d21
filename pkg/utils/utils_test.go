package utils

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketFraction(t *testing.T) {
	t.Run("stable for the same key", func(t *testing.T) {
		first := BucketFraction("exp-1:user-42")
		for i := 0; i < 1000; i++ {
			assert.Equal(t, first, BucketFraction("exp-1:user-42"))
		}
	})

	t.Run("always in [0, 1)", func(t *testing.T) {
		for i := 0; i < 5000; i++ {
			f := BucketFraction(fmt.Sprintf("k-%d", i))
			assert.GreaterOrEqual(t, f, 0.0)
			assert.Less(t, f, 1.0)
		}
	})

	t.Run("spreads keys roughly uniformly", func(t *testing.T) {
		const n = 20000
		buckets := make([]int, 10)
		for i := 0; i < n; i++ {
			buckets[int(BucketFraction(fmt.Sprintf("subject-%d", i))*10)]++
		}
		for i, c := range buckets {
			assert.InDelta(t, n/10, c, n/10*0.1, "bucket %d", i)
		}
	})
}

func TestCompositeKey(t *testing.T) {
	assert.Equal(t, "exp:subject", CompositeKey("exp", "subject"))
	assert.Equal(t, "a", CompositeKey("a"))
	assert.Equal(t, "", CompositeKey())
	assert.Equal(t, "a::b", CompositeKey("a", "", "b"))
}

func TestDecodeObjectKeepsOrder(t *testing.T) {
	var keys []string
	var values []string
	err := DecodeObject([]byte(`{"zeta": 1, "alpha": {"x": [1,2]}, "mid": "s"}`), func(k string, v json.RawMessage) error {
		keys = append(keys, k)
		values = append(values, string(v))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, keys)
	assert.Equal(t, []string{`1`, `{"x": [1,2]}`, `"s"`}, values)
}

func TestDecodeObjectErrors(t *testing.T) {
	noop := func(string, json.RawMessage) error { return nil }

	assert.NoError(t, DecodeObject([]byte(" null "), noop))
	assert.Error(t, DecodeObject([]byte(`[1,2]`), noop))
	assert.Error(t, DecodeObject([]byte(`{"a":`), noop))

	stop := fmt.Errorf("stop")
	err := DecodeObject([]byte(`{"a":1}`), func(string, json.RawMessage) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestObjectBuilder(t *testing.T) {
	var b ObjectBuilder
	empty, err := b.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty))

	b.Add("b", 1)
	b.Add("a", map[string]int{"x": 2})
	out, err := b.Bytes()
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":{"x":2}}`, string(out))

	var bad ObjectBuilder
	bad.Add("ch", make(chan int))
	_, err = bad.Bytes()
	assert.Error(t, err)
}
