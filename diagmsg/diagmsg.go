// Package diagmsg dissects the DoIP diagnostic message payload (payload type
// 0x8001, ISO 13400-2:2012 table 26).
package diagmsg

import (
	"github.com/pkg/errors"

	"github.com/eshenhu/doipdump/dissect"
)

// Offsets are relative to the start of the payload.
const (
	srcAddrPos    = 0
	srcAddrLen    = 2
	targetAddrPos = 2
	targetAddrLen = 2
	userDataPos   = 4
)

const (
	description       = "Diagnostic message"
	descriptionFormat = "Diagnostic message [Source addr: 0x%04X, Dest addr: 0x%04X]"
)

// Dissector decodes diagnostic message payloads into a field tree and summary.
// It is immutable once Register returns and safe for concurrent use.
type Dissector struct {
	sa      dissect.Descriptor
	ta      dissect.Descriptor
	ud      dissect.Descriptor
	subtree dissect.SubtreeID
}

// Register adds the diagnostic message fields and subtree to reg.
// It fails if the fields are already present in reg.
func Register(reg *dissect.Registry) (*Dissector, error) {
	sa := &dissect.Descriptor{
		Name:        "Source address",
		Abbrev:      "doip.sa",
		Type:        dissect.FieldTypeUint16,
		Base:        dissect.BaseHex,
		Description: "Contains the logical address of the sender of a diagnostic message (e.g. the external test equipment address).",
	}
	ta := &dissect.Descriptor{
		Name:        "Target address",
		Abbrev:      "doip.ta",
		Type:        dissect.FieldTypeUint16,
		Base:        dissect.BaseHex,
		Description: "Contains the logical address of the receiver of a diagnostic message (e.g. a specific ECU on the vehicle's network).",
	}
	ud := &dissect.Descriptor{
		Name:        "User data",
		Abbrev:      "doip.ud",
		Type:        dissect.FieldTypeBytes,
		Base:        dissect.BaseNone,
		Description: "Contains the actual diagnostic data (e.g. a ISO 14229-1 diagnostic request) which shall be routed to the destination (e.g. the ECM).",
	}

	if err := reg.Register([]*dissect.Descriptor{sa, ta, ud}); err != nil {
		return nil, errors.Wrap(err, "diagnostic message")
	}
	d := &Dissector{sa: *sa, ta: *ta, ud: *ud}
	if err := reg.RegisterSubtrees(&d.subtree); err != nil {
		return nil, errors.Wrap(err, "diagnostic message")
	}
	return d, nil
}

// Subtree returns the display group the payload items are nested under.
func (d *Dissector) Subtree() dissect.SubtreeID { return d.subtree }

// Fields returns the ids of the source address, target address and user data fields.
func (d *Dissector) Fields() (sa, ta, ud dissect.FieldID) {
	return d.sa.ID, d.ta.ID, d.ud.ID
}

// Dissect writes the summary of the payload in ctx and, when ctx carries a
// tree, the decoded items. Reads never go past ctx.Length. A returned error
// means the payload claims more bytes than are available; the summary is set
// regardless.
func (d *Dissector) Dissect(ctx *dissect.Context) error {
	length := ctx.Length
	if length < 0 {
		length = 0
	}

	var buf *dissect.Buffer
	if ctx.Buf != nil {
		var err error
		if buf, err = ctx.Buf.Tail(0, length); err != nil {
			return errors.Wrap(err, "diagnostic message")
		}
	}

	if ctx.Columns != nil {
		setSummary(ctx.Columns, buf)
	}

	if ctx.Tree == nil || buf == nil {
		return nil
	}
	if err := d.fillTree(ctx.Tree, buf, length); err != nil {
		return errors.Wrap(err, "diagnostic message")
	}
	return nil
}

func setSummary(cols *dissect.Columns, buf *dissect.Buffer) {
	sourceAddr, err := buf.Uint16(srcAddrPos)
	if err != nil {
		cols.SetInfo(description)
		return
	}
	destAddr, err := buf.Uint16(targetAddrPos)
	if err != nil {
		cols.SetInfo(description)
		return
	}
	cols.SetInfof(descriptionFormat, sourceAddr, destAddr)
}

// fillTree emits only the fixed fields that fit in length; a truncated
// header is not an error.
func (d *Dissector) fillTree(tree *dissect.Tree, buf *dissect.Buffer, length int) error {
	if length >= srcAddrPos+srcAddrLen {
		if _, err := tree.AddItem(d.sa.ID, buf, srcAddrPos, srcAddrLen, dissect.EncodingBigEndian); err != nil {
			return err
		}
	}
	if length >= targetAddrPos+targetAddrLen {
		if _, err := tree.AddItem(d.ta.ID, buf, targetAddrPos, targetAddrLen, dissect.EncodingBigEndian); err != nil {
			return err
		}
	}

	if userDataLen := length - userDataPos; userDataLen > 0 {
		if _, err := tree.AddItem(d.ud.ID, buf, userDataPos, userDataLen, dissect.EncodingBigEndian); err != nil {
			return err
		}
	}
	return nil
}
