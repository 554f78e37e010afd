package eventstream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAll(t *testing.T, input string) []Message {
	t.Helper()
	dec := NewDecoder(strings.NewReader(input), 0)
	var out []Message
	for {
		msg, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, msg)
	}
}

func TestDecoder(t *testing.T) {
	t.Run("single_data_line", func(t *testing.T) {
		msgs := decodeAll(t, "data: {\"ApiVersion\":\"2.0.0\"}\n\n")
		require.Len(t, msgs, 1)
		assert.Equal(t, `{"ApiVersion":"2.0.0"}`, string(msgs[0].Data))
	})

	t.Run("multi_line_data_joined_with_newline", func(t *testing.T) {
		msgs := decodeAll(t, "data: first\ndata: second\n\n")
		require.Len(t, msgs, 1)
		assert.Equal(t, "first\nsecond", string(msgs[0].Data))
	})

	t.Run("crlf_line_endings", func(t *testing.T) {
		msgs := decodeAll(t, "id: 7\r\ndata: x\r\n\r\ndata: y\r\n\r\n")
		require.Len(t, msgs, 2)
		assert.Equal(t, "7", msgs[0].ID)
		assert.Equal(t, "x", string(msgs[0].Data))
		assert.Equal(t, "y", string(msgs[1].Data))
	})

	t.Run("comments_and_blank_lines_skipped", func(t *testing.T) {
		msgs := decodeAll(t, ": keep-alive\n\n\n:another\ndata: z\n\n")
		require.Len(t, msgs, 1)
		assert.Equal(t, "z", string(msgs[0].Data))
	})

	t.Run("fields", func(t *testing.T) {
		msgs := decodeAll(t, "event: main\nid: 42\nretry: 1500\nunknown: field\ndata:no-space\n\n")
		require.Len(t, msgs, 1)
		assert.Equal(t, "main", msgs[0].Event)
		assert.Equal(t, "42", msgs[0].ID)
		assert.Equal(t, 1500*time.Millisecond, msgs[0].Retry)
		assert.Equal(t, "no-space", string(msgs[0].Data))
	})

	t.Run("event_without_data_is_not_dispatched", func(t *testing.T) {
		msgs := decodeAll(t, "event: ping\n\ndata: real\n\n")
		require.Len(t, msgs, 1)
		assert.Equal(t, "", msgs[0].Event, "fields reset after an empty message")
		assert.Equal(t, "real", string(msgs[0].Data))
	})

	t.Run("incomplete_message_at_eof_discarded", func(t *testing.T) {
		msgs := decodeAll(t, "data: done\n\ndata: partial\n")
		require.Len(t, msgs, 1)
		assert.Equal(t, "done", string(msgs[0].Data))
	})

	t.Run("bad_retry_ignored", func(t *testing.T) {
		msgs := decodeAll(t, "retry: soon\ndata: a\n\n")
		require.Len(t, msgs, 1)
		assert.Equal(t, time.Duration(0), msgs[0].Retry)
	})

	t.Run("read_error_propagates", func(t *testing.T) {
		boom := errors.New("boom")
		dec := NewDecoder(io.MultiReader(strings.NewReader("data: a\n"), iotestErrReader{boom}), 0)
		_, err := dec.Decode()
		assert.ErrorIs(t, err, boom)
	})

	t.Run("long_line_within_limit", func(t *testing.T) {
		payload := strings.Repeat("x", 10000)
		dec := NewDecoder(strings.NewReader("data: "+payload+"\n\n"), 16<<10)
		msg, err := dec.Decode()
		require.NoError(t, err)
		assert.Equal(t, payload, string(msg.Data))
	})

	t.Run("line_over_limit", func(t *testing.T) {
		dec := NewDecoder(strings.NewReader("data: "+strings.Repeat("x", 10000)+"\n\n"), 8<<10)
		_, err := dec.Decode()
		assert.ErrorIs(t, err, ErrMessageTooLarge)
	})

	t.Run("data_lines_over_limit", func(t *testing.T) {
		line := "data: " + strings.Repeat("x", 60) + "\n"
		dec := NewDecoder(strings.NewReader(strings.Repeat(line, 10)+"\n"), 256)
		_, err := dec.Decode()
		assert.ErrorIs(t, err, ErrMessageTooLarge)
	})

	t.Run("limit_applies_per_message", func(t *testing.T) {
		msg := "data: " + strings.Repeat("x", 100) + "\n\n"
		dec := NewDecoder(strings.NewReader(strings.Repeat(msg, 5)), 128)
		for range 5 {
			_, err := dec.Decode()
			require.NoError(t, err)
		}
		_, err := dec.Decode()
		assert.ErrorIs(t, err, io.EOF)
	})
}

type iotestErrReader struct{ err error }

func (r iotestErrReader) Read([]byte) (int, error) { return 0, r.err }
