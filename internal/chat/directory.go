// Package chat holds the gateway's view of the chat system: a directory of
// channels, users and messages, and a sender that posts messages.
package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"email-mirror-gateway/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a known message is registered again with different metadata.
	ErrConflict = errors.New("conflicting message metadata")
)

// Directory resolves chat entities. Lookups that find nothing return ErrNotFound.
type Directory interface {
	ChannelByToken(ctx context.Context, token string) (*models.Channel, error)
	ChannelByID(ctx context.Context, id int64) (*models.Channel, error)
	ChannelByName(ctx context.Context, realm, name string) (*models.Channel, error)
	MessageByID(ctx context.Context, id int64) (*models.Message, error)
	UserByID(ctx context.Context, id int64) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// SystemBot returns the bot account with the given email.
	SystemBot(ctx context.Context, email string) (*models.User, error)
}

// MemoryDirectory is a Directory kept in process memory.
type MemoryDirectory struct {
	mu           sync.RWMutex
	channels     map[int64]*models.Channel
	channelToken map[string]*models.Channel
	users        map[int64]*models.User
	userEmail    map[string]*models.User
	messages     map[int64]*models.Message
}

// NewMemoryDirectory creates an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		channels:     make(map[int64]*models.Channel),
		channelToken: make(map[string]*models.Channel),
		users:        make(map[int64]*models.User),
		userEmail:    make(map[string]*models.User),
		messages:     make(map[int64]*models.Message),
	}
}

// NewMemoryDirectoryFromConfig creates a directory seeded with the configured entities.
func NewMemoryDirectoryFromConfig(cfg models.DirectoryConfig) *MemoryDirectory {
	d := NewMemoryDirectory()
	for i := range cfg.Channels {
		d.PutChannel(cfg.Channels[i])
	}
	for i := range cfg.Users {
		d.PutUser(cfg.Users[i])
	}
	for i := range cfg.Messages {
		d.PutMessage(cfg.Messages[i])
	}
	return d
}

// PutChannel adds or replaces a channel and its email token.
func (d *MemoryDirectory) PutChannel(c models.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.channels[c.ID]; ok {
		delete(d.channelToken, old.EmailToken)
	}
	d.channels[c.ID] = &c
	if c.EmailToken != "" {
		d.channelToken[c.EmailToken] = &c
	}
}

// PutUser adds or replaces a user.
func (d *MemoryDirectory) PutUser(u models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.users[u.ID]; ok {
		delete(d.userEmail, strings.ToLower(old.Email))
	}
	d.users[u.ID] = &u
	d.userEmail[strings.ToLower(u.Email)] = &u
}

// PutMessage records the metadata of a chat message so replies to it can be
// routed. It replaces any earlier record with the same ID.
func (d *MemoryDirectory) PutMessage(m models.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m.Recipient.UserIDs = append([]int64(nil), m.Recipient.UserIDs...)
	d.messages[m.ID] = &m
}

// RegisterMessage records m unless a message with the same ID is already
// known. Registering identical metadata again is a no-op; different metadata
// returns ErrConflict.
func (d *MemoryDirectory) RegisterMessage(m models.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if known, ok := d.messages[m.ID]; ok {
		if !sameMessage(known, &m) {
			return ErrConflict
		}
		return nil
	}
	m.Recipient.UserIDs = append([]int64(nil), m.Recipient.UserIDs...)
	d.messages[m.ID] = &m
	return nil
}

func sameMessage(a, b *models.Message) bool {
	return a.ID == b.ID &&
		a.SenderID == b.SenderID &&
		a.Realm == b.Realm &&
		a.Topic == b.Topic &&
		a.Recipient.Type == b.Recipient.Type &&
		a.Recipient.ChannelID == b.Recipient.ChannelID &&
		slices.Equal(a.Recipient.UserIDs, b.Recipient.UserIDs)
}

// ChannelByToken returns the channel whose email token is token.
func (d *MemoryDirectory) ChannelByToken(ctx context.Context, token string) (*models.Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if c, ok := d.channelToken[token]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrNotFound
}

// ChannelByID returns the channel with the given ID.
func (d *MemoryDirectory) ChannelByID(ctx context.Context, id int64) (*models.Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if c, ok := d.channels[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrNotFound
}

// ChannelByName returns the channel called name in realm, ignoring case.
func (d *MemoryDirectory) ChannelByName(ctx context.Context, realm, name string) (*models.Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.channels {
		if c.Realm == realm && strings.EqualFold(c.Name, name) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// MessageByID returns the message metadata recorded for id.
func (d *MemoryDirectory) MessageByID(ctx context.Context, id int64) (*models.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	cp.Recipient.UserIDs = append([]int64(nil), m.Recipient.UserIDs...)
	return &cp, nil
}

// UserByID returns the user with the given ID.
func (d *MemoryDirectory) UserByID(ctx context.Context, id int64) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrNotFound
}

// UserByEmail returns the user with the given email, ignoring case.
func (d *MemoryDirectory) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.userEmail[strings.ToLower(strings.TrimSpace(email))]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrNotFound
}

// SystemBot returns the bot account with the given email.
func (d *MemoryDirectory) SystemBot(ctx context.Context, email string) (*models.User, error) {
	u, err := d.UserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !u.Bot {
		return nil, ErrNotFound
	}
	return u, nil
}
