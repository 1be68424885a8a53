// Package identity derives the identifiers a sandbox is known by: session
// ids (KSUIDs when the caller has none) and the deterministic container name
// used both to avoid collisions and to find a container out of band.
package identity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/segmentio/ksuid"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

// DefaultPrefix is prepended to every managed container name.
const DefaultPrefix = "app-builder"

// maxSessionIDLen keeps <prefix>-<sessionId> inside the engine's name limit.
const maxSessionIDLen = 128

// sessionIDRegex matches names the container engine accepts after the prefix.
var sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// NewSessionID returns a fresh lowercase KSUID.
func NewSessionID() string {
	return strings.ToLower(ksuid.New().String())
}

// ValidateSessionID checks that id can be embedded in a container name.
func ValidateSessionID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("%w: cannot be empty", sandbox.ErrInvalidSessionID)
	}
	if len(id) > maxSessionIDLen {
		return fmt.Errorf("%w: cannot exceed %d characters", sandbox.ErrInvalidSessionID, maxSessionIDLen)
	}
	if !sessionIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q must start with an alphanumeric and contain only [a-zA-Z0-9_.-]", sandbox.ErrInvalidSessionID, id)
	}
	return nil
}

// ContainerName returns <prefix>-<sessionID>. An empty prefix uses
// DefaultPrefix.
func ContainerName(prefix, sessionID string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "-" + sessionID
}

// SessionFromName recovers the session id from a container name produced by
// ContainerName. Engines report names with a leading slash; it is ignored.
func SessionFromName(prefix, name string) (string, bool) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	name = strings.TrimPrefix(name, "/")
	id, ok := strings.CutPrefix(name, prefix+"-")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
