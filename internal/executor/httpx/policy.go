package httpx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CollisionPolicy defines how an existing target file is handled when a
// transfer starts from offset zero.
// Values: "error" | "overwrite" | "rename".
type CollisionPolicy string

const (
	CollisionError     CollisionPolicy = "error"
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionRename    CollisionPolicy = "rename"
)

// ParseCollisionPolicy converts a string to a CollisionPolicy with default.
func ParseCollisionPolicy(s string) CollisionPolicy {
	switch CollisionPolicy(s) {
	case CollisionOverwrite:
		return CollisionOverwrite
	case CollisionRename:
		return CollisionRename
	case CollisionError:
		fallthrough
	default:
		return CollisionError
	}
}

// resolveCollision returns the path to write, applying the policy when the
// target already exists. Rename probes "name (1).ext", "name (2).ext", ...
func resolveCollision(path string, policy CollisionPolicy) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}
	switch policy {
	case CollisionOverwrite:
		return path, os.Remove(path)
	case CollisionRename:
		ext := filepath.Ext(path)
		stem := strings.TrimSuffix(path, ext)
		for i := 1; ; i++ {
			candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
			if _, err := os.Stat(candidate); os.IsNotExist(err) {
				return candidate, nil
			}
		}
	default:
		return "", fmt.Errorf("target exists: %s", path)
	}
}
