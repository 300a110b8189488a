package mongodoc

import (
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

// duplicateKeyCode is the server error code for a unique-index violation.
const duplicateKeyCode = 11000

// IsDuplicateKey reports whether err contains at least one duplicate-key
// write error.
func IsDuplicateKey(err error) bool {
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, we := range bwe.WriteErrors {
			if we.Code == duplicateKeyCode {
				return true
			}
		}
	}
	return mongo.IsDuplicateKeyError(err)
}

// OnlyDuplicateKeys reports whether every individual write failure in err
// is a duplicate-key violation. Bulk writes treated this way are considered
// successful at-least-once inserts.
func OnlyDuplicateKeys(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return false
	}
	if bwe.WriteConcernError != nil {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return len(bwe.WriteErrors) > 0
}
