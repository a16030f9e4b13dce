package imap

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// StandardClient is a Client backed by go-imap over TLS.
type StandardClient struct {
	client  *client.Client
	timeout time.Duration
}

// NewStandardClient creates a new StandardClient with a default timeout of 30 seconds for IMAP operations.
func NewStandardClient() *StandardClient {
	return &StandardClient{
		timeout: 30 * time.Second,
	}
}

// Connect establishes a TLS connection to the IMAP server.
func (c *StandardClient) Connect(server string) error {
	cl, err := client.DialTLS(server, nil)
	if err != nil {
		return fmt.Errorf("IMAP connection error: %w", err)
	}
	c.client = cl
	return nil
}

// Login authenticates with user and password.
func (c *StandardClient) Login(user, password string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	return c.client.Login(user, password)
}

// SelectMailbox selects the mailbox (e.g. "INBOX") for subsequent operations.
func (c *StandardClient) SelectMailbox(name string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	_, err := c.client.Select(name, false)
	return err
}

// ListUnseenUIDs returns the UIDs of every message without the \Seen flag.
func (c *StandardClient) ListUnseenUIDs() ([]uint32, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("error searching for unseen emails: %w", err)
	}
	return uids, nil
}

// FetchRaw returns the full RFC 5322 source of the message with the given UID.
// Fetching BODY.PEEK[] leaves the \Seen flag alone.
func (c *StandardClient) FetchRaw(uid uint32) ([]byte, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	prevTimeout := c.client.Timeout
	c.client.Timeout = c.timeout
	defer func() { c.client.Timeout = prevTimeout }()

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("error fetching message UID %d: %w", uid, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("no message retrieved for UID %d", uid)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("no body in message UID %d", uid)
	}
	return io.ReadAll(body)
}

// MarkSeen sets the \Seen flag on the message with the given UID.
func (c *StandardClient) MarkSeen(uid uint32) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	return c.client.UidStore(seqSet, item, flags, nil)
}

// Close logs out from the IMAP server. Without a connection it does nothing.
func (c *StandardClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Logout()
}
