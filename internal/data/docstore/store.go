// Package docstore is the document persistence collaborator: a versioned
// key/value store addressed by (collection, id) with an optimistic
// conditional write. Higher layers encode their own records into Data.
package docstore

import (
	"errors"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionMismatch = errors.New("document version mismatch")
)

type Record struct {
	ID        string
	Version   int64
	Data      datatypes.JSON
	UpdatedAt time.Time
}

// Write is a side effect applied in the same atomic unit as a ConditionalPut.
// Deletes of missing documents are not an error.
type Write struct {
	Collection string
	Record     Record
	Delete     bool
}

func PutWrite(collection string, rec Record) Write {
	return Write{Collection: collection, Record: rec}
}

func DeleteWrite(collection, id string) Write {
	return Write{Collection: collection, Record: Record{ID: id}, Delete: true}
}

type Store interface {
	Get(dbc dbctx.Context, collection, id string) (*Record, error)
	// Put upserts unconditionally and bumps the version.
	Put(dbc dbctx.Context, collection string, rec Record) (*Record, error)
	// ConditionalPut stores rec only if the current version equals
	// expectedVersion (0 means the document must not exist yet), then applies
	// also. Either everything is written or nothing is.
	ConditionalPut(dbc dbctx.Context, collection string, rec Record, expectedVersion int64, also ...Write) (*Record, error)
	Delete(dbc dbctx.Context, collection, id string) error
	// Scan calls fn for every document in collection, in no particular order,
	// stopping at the first error fn returns. It is a full pass and meant for
	// operator tooling, not request paths.
	Scan(dbc dbctx.Context, collection string, fn func(Record) error) error
	Close() error
}

func cloneData(d datatypes.JSON) datatypes.JSON {
	if d == nil {
		return nil
	}
	out := make(datatypes.JSON, len(d))
	copy(out, d)
	return out
}
