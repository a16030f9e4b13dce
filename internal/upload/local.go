// Package upload stores email attachments so chat messages can link to them.
package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"email-mirror-gateway/internal/body"
	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/models"

	"github.com/google/uuid"
)

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// LocalStore writes attachments below a directory, one subdirectory per realm.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates a LocalStore rooted at cfg.Dir that links files below cfg.BaseURL.
func NewLocalStore(cfg models.UploadConfig) *LocalStore {
	return &LocalStore{
		dir:     cfg.Dir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Upload saves file under a random name and returns its URL.
func (s *LocalStore) Upload(ctx context.Context, file body.Attachment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	realm := realmDir(file.Realm)
	name := uuid.New().String() + "/" + SanitizeName(file.Filename)
	path := filepath.Join(s.dir, realm, filepath.FromSlash(name))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	if err := os.WriteFile(path, file.Data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}

	owner := ""
	if file.Owner != nil {
		owner = file.Owner.Email
	}
	logging.Log.WithFields(map[string]interface{}{
		"realm": file.Realm,
		"owner": owner,
		"size":  len(file.Data),
	}).Infof("Stored attachment %s", name)

	return s.baseURL + "/" + realm + "/" + name, nil
}

func realmDir(realm string) string {
	if realm == "" {
		return "default"
	}
	return SanitizeName(realm)
}

// SanitizeName reduces a filename to characters that are safe in paths and URLs.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Trim(unsafeNameRe.ReplaceAllString(name, "_"), "._")
	if name == "" {
		return "attachment"
	}
	return name
}
