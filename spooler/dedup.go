package spooler

import (
	"context"
	"fmt"
)

const (
	MatchedOnHash = "hash"
	MatchedOnKey  = "key"
)

type DuplicateCheck struct {
	IsDuplicate bool
	// MatchedOn is MatchedOnHash, MatchedOnKey or "".
	MatchedOn  string
	DocumentID uint
}

// Err is nil for a non-duplicate and wraps ErrDuplicateDocument otherwise.
func (c DuplicateCheck) Err() error {
	if !c.IsDuplicate {
		return nil
	}
	if c.DocumentID != 0 {
		return fmt.Errorf("%w: matched on %s (document %d)", ErrDuplicateDocument, c.MatchedOn, c.DocumentID)
	}
	return fmt.Errorf("%w: matched on %s", ErrDuplicateDocument, c.MatchedOn)
}

// DuplicateDetector answers whether a candidate was already accepted. Run it
// inside Store.Atomic so the check and the following insert cannot
// interleave with another file's.
type DuplicateDetector struct {
	store Store
}

func NewDuplicateDetector(store Store) *DuplicateDetector {
	return &DuplicateDetector{store: store}
}

func (d *DuplicateDetector) Check(ctx context.Context, accessKey string, contentHash string) (DuplicateCheck, error) {
	doc, err := d.store.FindByAccessKeyOrHash(ctx, accessKey, contentHash)
	if err != nil {
		return DuplicateCheck{}, err
	}
	if doc != nil {
		on := MatchedOnKey
		if contentHash != "" && doc.ContentHash == contentHash {
			on = MatchedOnHash
		}
		return DuplicateCheck{IsDuplicate: true, MatchedOn: on, DocumentID: doc.ID}, nil
	}

	// A success outcome outlives a document removed by an administrator.
	o, err := d.store.FindSuccessfulOutcomeByHash(ctx, contentHash)
	if err != nil {
		return DuplicateCheck{}, err
	}
	if o != nil {
		c := DuplicateCheck{IsDuplicate: true, MatchedOn: MatchedOnHash}
		if o.DocumentID != nil {
			c.DocumentID = *o.DocumentID
		}
		return c, nil
	}
	return DuplicateCheck{}, nil
}
