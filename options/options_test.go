package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	o, err := Parse(nil, ForRead)
	require.NoError(t, err)
	assert.True(t, o.Read)
	assert.False(t, o.Write)

	o, err = Parse(nil, ForWrite)
	require.NoError(t, err)
	assert.True(t, o.Write)
	assert.False(t, o.Read)
}

func TestParseAppendImpliesWrite(t *testing.T) {
	o, err := Parse([]Token{APPEND}, ForWrite)
	require.NoError(t, err)
	assert.True(t, o.Write)
	assert.True(t, o.Append)
	assert.False(t, o.Read)
}

func TestParseRejectsUnknownToken(t *testing.T) {
	_, err := Parse([]Token{"BOGUS"}, ForRead)
	require.Error(t, err)
	var unsupported *UnsupportedOptionError
	assert.ErrorAs(t, err, &unsupported)
}

func TestParseRejectsInvalidCombinations(t *testing.T) {
	cases := [][]Token{
		{READ, APPEND},
		{READ, TRUNCATE_EXISTING},
		{APPEND, TRUNCATE_EXISTING},
		{CREATE_NEW, READ},
	}
	for _, tokens := range cases {
		_, err := Parse(tokens, ForRead)
		require.Errorf(t, err, "expected error for %v", tokens)
		var combo *InvalidCombinationError
		assert.ErrorAsf(t, err, &combo, "expected InvalidCombinationError for %v", tokens)
	}
}

func TestParseIdempotent(t *testing.T) {
	first, err := Parse([]Token{WRITE, CREATE, TRUNCATE_EXISTING}, ForWrite)
	require.NoError(t, err)
	second, err := Parse(first.Tokens(), ForWrite)
	require.NoError(t, err)
	assert.Equal(t, first.Read, second.Read)
	assert.Equal(t, first.Write, second.Write)
	assert.Equal(t, first.Create, second.Create)
	assert.Equal(t, first.Truncate, second.Truncate)
}

func TestCreateNewRequiresWrite(t *testing.T) {
	_, err := Parse([]Token{CREATE_NEW}, ForRead)
	require.Error(t, err)
}

func TestCreateNewWithWriteOK(t *testing.T) {
	o, err := Parse([]Token{CREATE_NEW, WRITE}, ForWrite)
	require.NoError(t, err)
	assert.True(t, o.CreateNew)
	assert.True(t, o.Write)
}
