package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDefineLookup(t *testing.T) {
	r := NewRegistry()
	c, err := r.Define("double", Func1(func(ctx context.Context, n int) (int, error) { return 2 * n, nil }))
	require.NoError(t, err)
	assert.Equal(t, "double", c.Name())

	got, err := r.Lookup("double")
	require.NoError(t, err)
	assert.Same(t, c, got)
	assert.True(t, r.Owns(c))

	_, err = r.Define("double", Func0(func(ctx context.Context) (int, error) { return 0, nil }))
	assert.True(t, errors.Is(err, ErrDuplicate))

	_, err = r.Lookup("missing")
	assert.True(t, errors.Is(err, ErrUnknown))

	other := NewRegistry()
	assert.False(t, other.Owns(c))
}

func TestRegistryRejectsBadDefinitions(t *testing.T) {
	r := NewRegistry()
	_, err := r.Define("  ", Func0(func(ctx context.Context) (int, error) { return 0, nil }))
	assert.Error(t, err)
	_, err = r.Define("nil", nil)
	assert.Error(t, err)
	assert.Panics(t, func() { r.MustDefine("", nil) })
}

func TestTypedAdapters(t *testing.T) {
	ctx := context.Background()

	add := Func2(func(ctx context.Context, a, b int) (int, error) { return a + b, nil })
	args, err := EncodeArgs(2, 3)
	require.NoError(t, err)
	v, err := add(ctx, args)
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	_, err = add(ctx, args[:1])
	assert.Error(t, err)

	greet := Func1(func(ctx context.Context, name string) (string, error) { return "hi " + name, nil })
	bad, err := EncodeArgs(42)
	require.NoError(t, err)
	_, err = greet(ctx, bad)
	assert.Error(t, err, "number does not decode into string")
}

func TestEncodeArgsRejectsUnencodable(t *testing.T) {
	_, err := EncodeArgs(1, make(chan int))
	assert.Error(t, err)
}

func TestValueRoundTrip(t *testing.T) {
	v, err := EncodeValue(map[string]int{"n": 7})
	require.NoError(t, err)
	var out map[string]int
	require.NoError(t, v.Decode(&out))
	assert.Equal(t, 7, out["n"])

	n, err := Value("12").Int()
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}
