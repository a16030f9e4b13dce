// Package imap fetches inbound mail from a mailbox for deployments where the
// gateway cannot receive SMTP directly.
package imap

// Client is the subset of an IMAP session the poller needs. Message
// identifiers are UIDs.
type Client interface {
	Connect(server string) error
	Login(user, password string) error
	SelectMailbox(name string) error
	ListUnseenUIDs() ([]uint32, error)
	FetchRaw(uid uint32) ([]byte, error)
	MarkSeen(uid uint32) error
	Close() error
}
