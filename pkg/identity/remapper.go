// Package identity translates user ids of a source deployment into the ids
// of the same people on the destination deployment.
package identity

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnmappedUser is matched by every UnmappedUserError.
var ErrUnmappedUser = errors.New("user id is not in the mapping")

// UnmappedUserError reports a non-null source user id that has no
// destination counterpart. Context names the record that referenced it.
type UnmappedUserError struct {
	UserID  string
	Context string
}

func (e *UnmappedUserError) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("unmapped user %q", e.UserID)
	}
	return fmt.Sprintf("unmapped user %q referenced by %s", e.UserID, e.Context)
}

func (e *UnmappedUserError) Unwrap() error { return ErrUnmappedUser }

// Remapper is a read-only lookup built from the operator-supplied mapping.
// Identity correspondence cannot be inferred, so the mapping is complete
// up front and never grows during a run.
type Remapper struct {
	mapping map[string]string
}

// NewRemapper copies mapping so later changes by the caller have no effect.
func NewRemapper(mapping map[string]string) *Remapper {
	m := make(map[string]string, len(mapping))
	for src, dst := range mapping {
		m[src] = dst
	}
	return &Remapper{mapping: m}
}

// Remap returns the destination id for sourceUserID.
func (r *Remapper) Remap(sourceUserID string) (string, error) {
	dst, ok := r.mapping[sourceUserID]
	if !ok {
		return "", &UnmappedUserError{UserID: sourceUserID}
	}
	return dst, nil
}

// RemapOptional is Remap for nullable columns: nil passes through unchanged.
func (r *Remapper) RemapOptional(sourceUserID *string) (*string, error) {
	if sourceUserID == nil {
		return nil, nil
	}
	dst, err := r.Remap(*sourceUserID)
	if err != nil {
		return nil, err
	}
	return &dst, nil
}

// Resolvable reports whether a nullable id can be carried over: nil or mapped.
func (r *Remapper) Resolvable(sourceUserID *string) bool {
	if sourceUserID == nil {
		return true
	}
	_, ok := r.mapping[*sourceUserID]
	return ok
}

// SourceUserIDs lists the mapping keys in sorted order.
func (r *Remapper) SourceUserIDs() []string {
	ids := make([]string, 0, len(r.mapping))
	for id := range r.mapping {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len is the number of mapped source users.
func (r *Remapper) Len() int { return len(r.mapping) }
