package dissect

import "fmt"

// Columns holds the one-line summary of the current packet.
type Columns struct {
	protocol string
	info     string
}

// SetProtocol sets the protocol column.
func (c *Columns) SetProtocol(s string) { c.protocol = s }

// Protocol returns the protocol column.
func (c *Columns) Protocol() string { return c.protocol }

// SetInfo overwrites the info column.
func (c *Columns) SetInfo(s string) { c.info = s }

// SetInfof overwrites the info column with a formatted string.
func (c *Columns) SetInfof(format string, args ...interface{}) {
	c.info = fmt.Sprintf(format, args...)
}

// AppendInfo appends s to the info column, separated by a space.
func (c *Columns) AppendInfo(s string) {
	if c.info == "" {
		c.info = s
		return
	}
	c.info += " " + s
}

// Info returns the info column.
func (c *Columns) Info() string { return c.info }
