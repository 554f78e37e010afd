package eventstream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Message is one dispatched server-sent event.
type Message struct {
	ID    string
	Event string
	Data  []byte
	Retry time.Duration
}

// DefaultMaxMessageSize bounds one message: its data lines plus the line
// being read.
const DefaultMaxMessageSize = 8 << 20

// ErrMessageTooLarge is returned once a message grows past the decoder's
// limit. The stream cannot be resynchronised after it.
var ErrMessageTooLarge = errors.New("event stream message too large")

// Decoder splits a text/event-stream body into messages. Lines may end in LF
// or CRLF. Comment lines and unknown fields are ignored.
type Decoder struct {
	r   *bufio.Reader
	max int
}

// NewDecoder reads messages from r. A maxSize of zero or less means
// DefaultMaxMessageSize.
func NewDecoder(r io.Reader, maxSize int) *Decoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Decoder{r: bufio.NewReader(r), max: maxSize}
}

// Decode blocks until the next complete message. A message still being
// assembled when the body ends is discarded and io.EOF is returned.
func (d *Decoder) Decode() (Message, error) {
	var (
		msg     Message
		data    bytes.Buffer
		hasData bool
	)

	for {
		line, err := d.readLine(d.max - data.Len() + len("\r\n"))
		if err != nil {
			return Message{}, err
		}

		if line == "" {
			if !hasData {
				msg = Message{}
				continue
			}
			msg.Data = bytes.TrimSuffix(data.Bytes(), []byte("\n"))
			return msg, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "event":
			msg.Event = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				msg.ID = value
			}
		case "retry":
			if ms, err := strconv.ParseUint(value, 10, 63); err == nil {
				msg.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
}

// readLine returns the next line without its terminator, failing once more
// than limit bytes have been read without finding one.
func (d *Decoder) readLine(limit int) (string, error) {
	var buf []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		if len(buf)+len(chunk) > limit {
			return "", fmt.Errorf("%w: exceeds %d bytes", ErrMessageTooLarge, d.max)
		}
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			line := strings.TrimSuffix(string(buf), "\n")
			return strings.TrimSuffix(line, "\r"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return "", err
		}
	}
}
