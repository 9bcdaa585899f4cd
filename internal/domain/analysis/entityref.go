package analysis

import (
	"fmt"
	"strconv"
	"strings"
)

// EntityKind enum of record types a document can be analyzed for
type EntityKind string

const (
	KindMaterialDelivery EntityKind = "material_delivery"
	KindWorkJournalEntry EntityKind = "work_journal_entry"
)

// ParseEntityKind validates a kind tag at the boundary.
func ParseEntityKind(s string) (EntityKind, error) {
	switch EntityKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindMaterialDelivery:
		return KindMaterialDelivery, nil
	case KindWorkJournalEntry:
		return KindWorkJournalEntry, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEntityKind, s)
	}
}

// EntityRef identifies the record an analysis concerns. Association is by
// value only; there is no relational constraint behind it.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   int64      `json:"id"`
}

// NewEntityRef builds a validated reference from boundary input.
func NewEntityRef(kind string, id int64) (EntityRef, error) {
	k, err := ParseEntityKind(kind)
	if err != nil {
		return EntityRef{}, err
	}
	if id <= 0 {
		return EntityRef{}, fmt.Errorf("%w: id must be positive, got %d", ErrInvalidEntityRef, id)
	}
	return EntityRef{Kind: k, ID: id}, nil
}

func (r EntityRef) String() string {
	return string(r.Kind) + "/" + strconv.FormatInt(r.ID, 10)
}

// Valid reports whether the reference was built through NewEntityRef.
func (r EntityRef) Valid() bool {
	_, err := ParseEntityKind(string(r.Kind))
	return err == nil && r.ID > 0
}
