package model

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/picpaygo/internal/errs"
)

// Cursor marks the last job of a page in newest-first order.
// Ties on CreatedAt are broken by ID.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// IsZero reports whether the cursor points at the first page.
func (c Cursor) IsZero() bool { return c.ID == uuid.Nil && c.CreatedAt.IsZero() }

// CursorAfter returns the cursor positioned after job j.
func CursorAfter(j Job) Cursor { return Cursor{CreatedAt: j.CreatedAt, ID: j.ID} }

// Encode returns the opaque form handed to clients.
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor; the empty string is the first page.
func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad cursor", errs.ErrValidation)
	}
	ts, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return Cursor{}, fmt.Errorf("%w: bad cursor", errs.ErrValidation)
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad cursor", errs.ErrValidation)
	}
	uid, err := uuid.FromString(id)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad cursor", errs.ErrValidation)
	}
	return Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: uid}, nil
}
