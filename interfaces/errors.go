package interfaces

import "errors"

var (
	// ErrInvalidKeyID is returned when a key id or key pair name cannot be resolved.
	ErrInvalidKeyID = errors.New("invalid key id")

	// ErrUnknownKeyPair is returned for pairs that are not enabled for rotation.
	ErrUnknownKeyPair = errors.New("unknown key pair")

	// ErrUnknownConsumer is returned when a consumer id is not registered.
	ErrUnknownConsumer = errors.New("unknown consumer")

	// ErrConsumerExists is returned when registering a duplicate consumer id.
	ErrConsumerExists = errors.New("consumer already registered")

	// ErrInvalidThreshold is returned for threshold configuration violating lower < upper.
	ErrInvalidThreshold = errors.New("invalid rotation threshold")

	// ErrRotationFailed is returned when key derivation fails; the pair is
	// left in the terminal failed state.
	ErrRotationFailed = errors.New("key rotation failed")

	// ErrPairNotFailed is returned when recovering a pair that is not in the failed state.
	ErrPairNotFailed = errors.New("key pair is not in failed rotation state")

	// ErrRotationBusy is returned when a pair already has a rotation in progress.
	ErrRotationBusy = errors.New("key rotation already in progress")

	// ErrKeySourceUnavailable is returned when a seed source cannot be reached.
	ErrKeySourceUnavailable = errors.New("key source unavailable")

	// ErrUnsupportedKeySource is returned for unknown key source URI schemes.
	ErrUnsupportedKeySource = errors.New("unsupported key source")
)

// IsUnknownKeyPair returns true if the error is or wraps ErrUnknownKeyPair.
func IsUnknownKeyPair(err error) bool {
	return errors.Is(err, ErrUnknownKeyPair)
}

// IsUnknownConsumer returns true if the error is or wraps ErrUnknownConsumer.
func IsUnknownConsumer(err error) bool {
	return errors.Is(err, ErrUnknownConsumer)
}

// IsRotationFailed returns true if the error is or wraps ErrRotationFailed.
func IsRotationFailed(err error) bool {
	return errors.Is(err, ErrRotationFailed)
}

// IsInvalidThreshold returns true if the error is or wraps ErrInvalidThreshold.
func IsInvalidThreshold(err error) bool {
	return errors.Is(err, ErrInvalidThreshold)
}
