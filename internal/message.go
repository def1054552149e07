package internal

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

const (
	commandLoad    = "load"
	commandDismiss = "dismiss"
)

// message is a host to web command delivered on a view's event stream.
type message struct {
	ID    string
	Type  string
	Views []string
	Data  string
}

func newMessage(msgType string, views []string, data string) *message {
	return &message{
		ID:    uuidv7(),
		Type:  msgType,
		Views: views,
		Data:  data,
	}
}

// WriteTo writes the message as one server-sent event.
func (msg *message) WriteTo(w io.Writer) (n int64, err error) {
	var buf bytes.Buffer
	if len(msg.ID) > 0 {
		fmt.Fprintf(&buf, "id: %s\n", msg.ID)
	}
	if len(msg.Type) > 0 {
		fmt.Fprintf(&buf, "event: %s\n", msg.Type)
	}
	if len(msg.Data) > 0 {
		for _, line := range strings.Split(msg.Data, "\n") {
			fmt.Fprintf(&buf, "data: %s\n", line)
		}
	}
	if buf.Len() == 0 {
		return
	}
	buf.WriteByte('\n')
	return buf.WriteTo(w)
}
