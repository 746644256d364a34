package builtin

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedRegistry() *Registry {
	r := NewRegistry()
	r.now = func() time.Time { return time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC) }
	return r
}

func TestRegistry_Call(t *testing.T) {
	r := fixedRegistry()

	tests := []struct {
		expr string
		want any
	}{
		{`now()`, "2024-03-09T14:30:00Z"},
		{`timestamp()`, int64(1709994600)},
		{`date()`, "2024-03-09"},
		{`date("2006/01")`, "2024/03"},
		{`base64("hello")`, "aGVsbG8="},
		{`base64Decode('aGVsbG8=')`, "hello"},
		{`sha256("abc")`, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{`urlEncode("a b&c")`, "a+b%26c"},
		{`urlDecode("a+b%26c")`, "a b&c"},
		{`random(7, 7)`, 7},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := r.Call(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_Call_Random(t *testing.T) {
	r := NewRegistry()

	v, err := r.Call("uuid()")
	require.NoError(t, err)
	_, err = uuid.Parse(v.(string))
	assert.NoError(t, err)

	v, err = r.Call("randomString(12)")
	require.NoError(t, err)
	assert.Len(t, v, 12)

	for i := 0; i < 50; i++ {
		v, err = r.Call("random(1, 3)")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, 1)
		assert.LessOrEqual(t, v, 3)
	}
}

func TestRegistry_Call_Errors(t *testing.T) {
	r := NewRegistry()

	_, err := r.Call("nope()")
	assert.ErrorIs(t, err, ErrUnknownFunction)

	_, err = r.Call("uuid")
	assert.EqualError(t, err, "not a function call: uuid")

	_, err = r.Call("random(a, 2)")
	assert.EqualError(t, err, `random(): min "a" is not an integer`)

	_, err = r.Call("random(5, 1)")
	assert.Error(t, err)

	_, err = r.Call("base64()")
	assert.EqualError(t, err, "base64(): expected 1 argument, got 0")

	_, err = r.Call("base64Decode(!!)")
	assert.Error(t, err)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register("answer", func([]string) (any, error) { return 42, nil })

	v, err := r.Call("answer()")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestParseArgs(t *testing.T) {
	assert.Equal(t, []string{"a", "b, c", "d"}, parseArgs(`a, "b, c", 'd'`))
	assert.Nil(t, parseArgs(""))
}

func TestIsCall(t *testing.T) {
	assert.True(t, IsCall("uuid()"))
	assert.True(t, IsCall(`date("2006")`))
	assert.False(t, IsCall("baseUrl"))
}
