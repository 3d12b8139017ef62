package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor is the opaque payload carried by page tokens.
type Cursor struct {
	Offset int `json:"o"`
}

// EncodeToken serialises the cursor into a base64 URL-safe page token. The first page has no token.
func EncodeToken(cursor Cursor) string {
	if cursor.Offset <= 0 {
		return ""
	}
	data, _ := json.Marshal(cursor)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeToken parses a page token produced by EncodeToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if cursor.Offset < 0 {
		return Cursor{}, fmt.Errorf("%w: negative offset", ErrInvalidPageToken)
	}
	return cursor, nil
}

// NextToken returns the token for the page after one starting at offset, or "" when fetched
// holds no more than pageSize items.
func NextToken(offset, pageSize, fetched int) string {
	if fetched <= pageSize {
		return ""
	}
	return EncodeToken(Cursor{Offset: offset + pageSize})
}
