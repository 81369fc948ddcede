package host

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ruteri/tee-keyseal/interfaces"
)

// TokenFile caches the launch token between runs. A missing or unreadable
// token is not an error: the platform issues a new one.
type TokenFile struct {
	path string
	log  *slog.Logger
}

// NewTokenFile returns a token cache at path, or at DefaultTokenPath when
// path is empty.
func NewTokenFile(path string, log *slog.Logger) *TokenFile {
	if path == "" {
		path = DefaultTokenPath()
	}
	if log == nil {
		log = slog.Default()
	}
	return &TokenFile{path: path, log: log}
}

// Path returns the token file location.
func (f *TokenFile) Path() string {
	return f.path
}

// Load returns the cached token, or nil when there is no usable one.
func (f *TokenFile) Load() interfaces.LaunchToken {
	data, err := os.ReadFile(f.path)
	if err != nil {
		f.log.Warn("Failed to read the launch token, a new one will be created", "path", f.path, "err", err)
		return nil
	}

	token, err := interfaces.NewLaunchTokenFromBytes(data)
	if err != nil {
		f.log.Warn("Invalid launch token, a new one will be created", "path", f.path, "size", len(data))
		return nil
	}
	return token
}

// Save writes token to the cache file.
func (f *TokenFile) Save(token interfaces.LaunchToken) error {
	if len(token) != interfaces.LaunchTokenSize {
		return fmt.Errorf("%w: launch token must be %d bytes", interfaces.ErrInvalidParameter, interfaces.LaunchTokenSize)
	}
	if err := os.WriteFile(f.path, token, 0600); err != nil {
		return fmt.Errorf("failed to save launch token: %w", err)
	}
	return nil
}
