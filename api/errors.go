package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ruteri/tee-key-rotation/interfaces"
)

// StatusForError maps service errors to HTTP status codes.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrInvalidKeyID), errors.Is(err, interfaces.ErrInvalidThreshold):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrUnknownKeyPair), errors.Is(err, interfaces.ErrUnknownConsumer):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrConsumerExists),
		errors.Is(err, interfaces.ErrPairNotFailed),
		errors.Is(err, interfaces.ErrRotationBusy),
		errors.Is(err, interfaces.ErrRotationFailed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ParsePairPath parses the {space}/{tier} URL segments of a key pair.
func ParsePairPath(space, tier string) (interfaces.KeyPairID, error) {
	n, err := strconv.ParseUint(space, 10, 8)
	if err != nil || n >= interfaces.MaxKeySpaces {
		return interfaces.KeyPairID{}, fmt.Errorf("%w: keyspace %q", interfaces.ErrInvalidKeyID, space)
	}
	t, err := interfaces.ParseTier(tier)
	if err != nil {
		return interfaces.KeyPairID{}, err
	}
	return interfaces.KeyPairID{Space: interfaces.KeySpace(n), Tier: t}, nil
}

// PairPath formats a key pair as {space}/{tier} URL segments.
func PairPath(id interfaces.KeyPairID) string {
	return fmt.Sprintf("%d/%s", id.Space, id.Tier)
}
