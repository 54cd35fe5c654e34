package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strconv"
	"strings"

	"github.com/tinoosan/ferry/internal/task"
)

// NormalizeURL trims surrounding whitespace. Deeper URL normalization is
// already done by task construction, which encodes the URL exactly once.
func NormalizeURL(s string) string {
	return strings.TrimSpace(s)
}

// Destination joins a record's base location ordinal with its cleaned
// relative path, giving a stable identity for the target file.
func Destination(rec task.Record) string {
	rel := path.Clean(path.Join(rec.Directory, rec.Filename))
	return strconv.Itoa(rec.BaseLocation) + ":" + rel
}

// Fingerprint computes a stable hex-encoded SHA-256 over the normalized
// URL and destination. Two live tasks with the same fingerprint would race
// on the same file, so repositories reject the second one.
func Fingerprint(rec task.Record) string {
	h := sha256.New()
	h.Write([]byte(NormalizeURL(rec.URL)))
	// NUL separator cannot appear in either input.
	h.Write([]byte{0})
	h.Write([]byte(Destination(rec)))
	return hex.EncodeToString(h.Sum(nil))
}
