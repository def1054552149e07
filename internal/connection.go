package internal

import "sync"

// connectionBuffer is how many commands may queue on a stream before the
// hub gives up on it.
const connectionBuffer = 64

// connection is one event stream reader following a set of views.
type connection struct {
	id    string
	send  chan *message
	views []string

	once sync.Once
}

func newConnection(views []string) *connection {
	return &connection{
		id:    uuidv7(),
		views: views,
		send:  make(chan *message, connectionBuffer),
	}
}

// close reports whether this call closed the send channel.
func (c *connection) close() (closed bool) {
	c.once.Do(func() {
		close(c.send)
		closed = true
	})
	return
}
