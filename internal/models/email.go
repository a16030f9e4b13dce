package models

import (
	"net/textproto"
	"time"
)

// Email represents a parsed inbound email message.
type Email struct {
	From         string
	Subject      string
	Header       map[string][]string
	Root         *Part
	InternalDate time.Time
	TraceID      string
}

// HeaderValues returns every raw value of the given header field, in message order.
func (e *Email) HeaderValues(key string) []string {
	if e.Header == nil {
		return nil
	}
	return e.Header[textproto.CanonicalMIMEHeaderKey(key)]
}

// HeaderValue returns the first raw value of the given header field.
func (e *Email) HeaderValue(key string) string {
	values := e.HeaderValues(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Walk visits every part of the message depth-first, parents before children.
func (e *Email) Walk(fn func(p *Part)) {
	if e.Root != nil {
		e.Root.walk(fn)
	}
}

// Part is a single node of the MIME tree. Payload holds the bytes left after
// the content-transfer-encoding was removed, still in the declared charset.
type Part struct {
	ContentType string
	Charset     string
	Filename    string
	Payload     []byte
	DecodeErr   error
	Children    []*Part
}

// Parts returns the nested parts of a multipart node.
func (p *Part) Parts() []*Part {
	return p.Children
}

// IsMultipart reports whether the part is a container of other parts.
func (p *Part) IsMultipart() bool {
	return len(p.Children) > 0
}

func (p *Part) walk(fn func(p *Part)) {
	fn(p)
	for _, c := range p.Children {
		c.walk(fn)
	}
}
