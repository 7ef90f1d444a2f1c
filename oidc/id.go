package oidc

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// NewID generates a random UUID-v4-shaped id: 36 characters of lowercase hex
// and dashes, with the version nibble fixed to 4 and the variant nibble to
// one of 8, 9, a or b.  The id is suitable for a state or nonce.
func NewID() (string, error) {
	const op = "oidc.NewID"
	b, err := uuid.GenerateRandomBytes(16)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %s: %w", op, err, ErrIdGeneratorFailed)
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	id, err := uuid.FormatUUID(b)
	if err != nil {
		return "", fmt.Errorf("%s: unable to format id: %s: %w", op, err, ErrIdGeneratorFailed)
	}
	return id, nil
}
