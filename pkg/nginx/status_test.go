package nginx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusMinimal(t *testing.T) {
	st, err := ParseStatus("1 2 3\nReading: 4 Writing: 5 Waiting: 6\n")
	require.NoError(t, err)
	assert.Equal(t, Status{
		Active:   15,
		Accepted: 1,
		Handled:  2,
		Requests: 3,
		Reading:  4,
		Writing:  5,
		Waiting:  6,
	}, st)
}

func TestParseStatusFullPage(t *testing.T) {
	page := "Active connections: 291 \n" +
		"server accepts handled requests\n" +
		" 16630948 16630948 31070465 \n" +
		"Reading: 6 Writing: 179 Waiting: 106 \n"

	st, err := ParseStatus(page)
	require.NoError(t, err)
	assert.Equal(t, uint64(291), st.Active)
	assert.Equal(t, uint64(16630948), st.Accepted)
	assert.Equal(t, uint64(16630948), st.Handled)
	assert.Equal(t, uint64(31070465), st.Requests)
	assert.Equal(t, uint64(6), st.Reading)
	assert.Equal(t, uint64(179), st.Writing)
	assert.Equal(t, uint64(106), st.Waiting)
}

func TestParseStatusToleratesWhitespace(t *testing.T) {
	st, err := ParseStatus("\n\r\n   7   8   9  \r\n\t Reading: 1   Writing: 2 Waiting: 3\r\n\n")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), st.Accepted)
	assert.Equal(t, uint64(3), st.Waiting)
}

func TestParseStatusMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
		line string
	}{
		{"empty", "", ""},
		{"missing counters", "Reading: 4 Writing: 5 Waiting: 6\n", "Reading: 4 Writing: 5 Waiting: 6"},
		{"missing connection states", "1 2 3\n", ""},
		{"two counters", "1 2\nReading: 4 Writing: 5 Waiting: 6\n", "1 2"},
		{"four counters", "1 2 3 4\nReading: 4 Writing: 5 Waiting: 6\n", "1 2 3 4"},
		{"non numeric counter", "1 x 3\nReading: 4 Writing: 5 Waiting: 6\n", "1 x 3"},
		{"negative counter", "1 -2 3\nReading: 4 Writing: 5 Waiting: 6\n", "1 -2 3"},
		{"missing waiting", "1 2 3\nReading: 4 Writing: 5\n", "Reading: 4 Writing: 5"},
		{"renamed field", "1 2 3\nReading: 4 Writing: 5 Idle: 6\n", "Reading: 4 Writing: 5 Idle: 6"},
		{"bad active", "Active connections: many\n1 2 3\nReading: 4 Writing: 5 Waiting: 6\n", "Active connections: many"},
		{"trailing garbage", "1 2 3\nReading: 4 Writing: 5 Waiting: 6\nextra\n", "extra"},
		{"html error page", "<html><body>502 Bad Gateway</body></html>", "<html><body>502 Bad Gateway</body></html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := ParseStatus(tt.text)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedInput)
			assert.Equal(t, Status{}, st, "no partial record")

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.line, pe.Line)
		})
	}
}
