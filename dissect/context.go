package dissect

// Context carries everything a payload dissector needs for one packet.
// It is created per packet and discarded afterwards.
type Context struct {
	// Buf is the payload view handed out by the header parser. It may hold
	// fewer than Length bytes when the capture was truncated.
	Buf *Buffer
	// Length is the payload length declared by the header.
	Length int
	// Columns receives the summary text.
	Columns *Columns
	// Tree is nil when only the summary is wanted.
	Tree *Tree
}
