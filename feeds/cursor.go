package feeds

import (
	"encoding/base64"
	"strconv"
	"strings"

	"tradefeed/models"
)

const cursorSeparator = "::"

// EncodeCursor turns a cursor into the opaque string handed to clients. The
// zero cursor encodes to nil.
func EncodeCursor(cursor models.PageCursor) *string {
	if cursor.IsZero() {
		return nil
	}
	raw := strconv.FormatInt(cursor.Timestamp, 10) + cursorSeparator + cursor.Id
	encoded := base64.RawURLEncoding.EncodeToString([]byte(raw))
	return &encoded
}

// ParseCursor decodes a cursor string. Invalid cursors decode to the zero
// cursor, which starts from the top of the collection.
func ParseCursor(cursor string) models.PageCursor {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return models.PageCursor{}
	}

	ts, id, ok := strings.Cut(string(raw), cursorSeparator)
	if !ok || id == "" {
		return models.PageCursor{}
	}

	timestamp, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || timestamp <= 0 {
		return models.PageCursor{}
	}

	return models.PageCursor{Timestamp: timestamp, Id: id}
}
