package session

import (
	"os"
	"path/filepath"
)

// Paths resolves the on-disk layout for session state under the
// configured data directory:
//
//	<data>/registry.db             session registry
//	<data>/sessions/<id>/session.db  credential container
//	<media>/<id>/                  resolved media payloads
type Paths struct {
	DataDir  string
	MediaDir string
}

// RegistryDBPath returns the path of the session registry database.
func (p Paths) RegistryDBPath() string {
	return filepath.Join(p.DataDir, "registry.db")
}

// SessionDir returns a session's state directory.
func (p Paths) SessionDir(id string) string {
	return filepath.Join(p.DataDir, "sessions", id)
}

// SessionDBPath returns a session's credential database path.
func (p Paths) SessionDBPath(id string) string {
	return filepath.Join(p.SessionDir(id), "session.db")
}

// SessionMediaDir returns a session's media payload directory.
func (p Paths) SessionMediaDir(id string) string {
	return filepath.Join(p.MediaDir, id)
}

// EnsureSessionDir creates a session's state directory.
func (p Paths) EnsureSessionDir(id string) error {
	return os.MkdirAll(p.SessionDir(id), 0o755)
}

// RemoveSessionState deletes a session's state and media directories.
func (p Paths) RemoveSessionState(id string) error {
	if err := os.RemoveAll(p.SessionDir(id)); err != nil {
		return err
	}
	return os.RemoveAll(p.SessionMediaDir(id))
}
