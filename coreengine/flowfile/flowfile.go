// Package flowfile provides the unit of work that travels through a flow.
//
// A FlowFile is a lightweight handle: attributes plus a reference to content
// owned elsewhere. At any instant a FlowFile is held by exactly one
// connection or one in-flight session.
package flowfile

import (
	"time"

	"github.com/google/uuid"
)

// Core attribute keys.
const (
	AttrUUID     = "uuid"
	AttrFilename = "filename"
	AttrPath     = "path"
)

// ContentRef points at content stored outside the core.
type ContentRef struct {
	// Location is opaque to the core (a repository key, a file path, an inline payload...).
	Location string
	// Offset and Length select a slice of the referenced content.
	Offset int64
	Length int64
	// Inline holds small payloads directly on the handle.
	Inline []byte
}

// FlowFile is a unit of work.
type FlowFile struct {
	id         string
	attributes *Attributes
	content    ContentRef

	// EnqueuedAt is reset every time the flow file enters a connection.
	EnqueuedAt time.Time
	// PenalizedUntil makes the flow file ineligible for delivery before this instant.
	PenalizedUntil time.Time
	// EntryDate is when the flow file first entered the flow.
	EntryDate time.Time
}

// New creates a flow file with a fresh id.
func New() *FlowFile {
	id := uuid.New().String()
	ff := &FlowFile{
		id:         id,
		attributes: NewAttributes(),
		EntryDate:  time.Now().UTC(),
	}
	ff.attributes.Set(AttrUUID, id)
	ff.attributes.Set(AttrFilename, id)
	return ff
}

// NewWithContent creates a flow file holding an inline payload.
func NewWithContent(data []byte) *FlowFile {
	ff := New()
	ff.SetContent(ContentRef{Inline: data, Length: int64(len(data))})
	return ff
}

// ID returns the flow file's unique id.
func (f *FlowFile) ID() string {
	return f.id
}

// Attributes returns the ordered attribute set.
func (f *FlowFile) Attributes() *Attributes {
	return f.attributes
}

// Attribute is a shorthand for Attributes().Get.
func (f *FlowFile) Attribute(key string) (string, bool) {
	return f.attributes.Get(key)
}

// SetAttribute is a shorthand for Attributes().Set. The uuid attribute is read only.
func (f *FlowFile) SetAttribute(key, value string) {
	if key == AttrUUID {
		return
	}
	f.attributes.Set(key, value)
}

// Content returns the content reference.
func (f *FlowFile) Content() ContentRef {
	return f.content
}

// SetContent replaces the content reference.
func (f *FlowFile) SetContent(ref ContentRef) {
	if ref.Length == 0 && len(ref.Inline) > 0 {
		ref.Length = int64(len(ref.Inline))
	}
	f.content = ref
}

// Size is the byte-size estimate used for connection limits.
func (f *FlowFile) Size() int64 {
	return f.content.Length
}

// IsPenalized reports whether the flow file is still inside its penalization window.
func (f *FlowFile) IsPenalized(now time.Time) bool {
	return now.Before(f.PenalizedUntil)
}

// Penalize delays redelivery of the flow file by d.
func (f *FlowFile) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	f.PenalizedUntil = time.Now().Add(d)
}

// ClearPenalty makes the flow file immediately eligible again.
func (f *FlowFile) ClearPenalty() {
	f.PenalizedUntil = time.Time{}
}

// Clone creates a copy with a new id. Content is shared by reference.
func (f *FlowFile) Clone() *FlowFile {
	c := New()
	for _, kv := range f.attributes.Pairs() {
		if kv.Key == AttrUUID {
			continue
		}
		c.attributes.Set(kv.Key, kv.Value)
	}
	c.content = f.content
	if len(f.content.Inline) > 0 {
		c.content.Inline = append([]byte(nil), f.content.Inline...)
	}
	c.EntryDate = f.EntryDate
	return c
}

// Snapshot captures the mutable parts of a flow file so a session can undo its changes.
type Snapshot struct {
	attributes     []Pair
	content        ContentRef
	penalizedUntil time.Time
}

// Snapshot captures the current attributes, content reference and penalty.
func (f *FlowFile) Snapshot() Snapshot {
	return Snapshot{
		attributes:     f.attributes.Pairs(),
		content:        f.content,
		penalizedUntil: f.PenalizedUntil,
	}
}

// Restore reverts the flow file to s.
func (f *FlowFile) Restore(s Snapshot) {
	attrs := NewAttributes()
	for _, p := range s.attributes {
		attrs.Set(p.Key, p.Value)
	}
	f.attributes = attrs
	f.content = s.content
	f.PenalizedUntil = s.penalizedUntil
}
