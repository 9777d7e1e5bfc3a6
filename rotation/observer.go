package rotation

import (
	"time"

	"github.com/ruteri/tee-key-rotation/interfaces"
)

// Observer receives rotation lifecycle callbacks, typically to export
// metrics. Callbacks run under the pair lock and must not block.
type Observer interface {
	StateChanged(pair interfaces.KeyPairID, from, to interfaces.RotationState)
	UsageRefreshed(pair interfaces.KeyPairID, usage interfaces.PairUsage)
	RotationCompleted(pair interfaces.KeyPairID, forced bool, latency time.Duration)
	RotationFailed(pair interfaces.KeyPairID)
	ConsumerReadFailed(pair interfaces.KeyPairID)
}

type nopObserver struct{}

func (nopObserver) StateChanged(interfaces.KeyPairID, interfaces.RotationState, interfaces.RotationState) {
}

func (nopObserver) UsageRefreshed(interfaces.KeyPairID, interfaces.PairUsage) {}

func (nopObserver) RotationCompleted(interfaces.KeyPairID, bool, time.Duration) {}

func (nopObserver) RotationFailed(interfaces.KeyPairID) {}

func (nopObserver) ConsumerReadFailed(interfaces.KeyPairID) {}
