package utils

import (
	"context"
	"time"

	goutils "go.viam.com/utils"

	"go.viam.com/icpslam/logging"
)

// SlowLogger starts a goroutine that logs every few seconds as long as the context has not timed out
// or the returned stop function has not been called.
func SlowLogger(ctx context.Context, msg, fieldName string, fieldVal interface{}, logger logging.Logger) func() {
	slowTicker := time.NewTicker(2 * time.Second)
	firstTick := true

	ctxWithCancel, cancel := context.WithCancel(ctx)
	startTime := time.Now()
	goutils.PanicCapturingGo(func() {
		for {
			select {
			case <-slowTicker.C:
				elapsed := time.Since(startTime).Round(time.Second).String()
				logger.Warnw(msg, fieldName, fieldVal, "time_elapsed", elapsed)
				if firstTick {
					slowTicker.Reset(3 * time.Second)
					firstTick = false
				} else {
					slowTicker.Reset(5 * time.Second)
				}
			case <-ctxWithCancel.Done():
				return
			}
		}
	})
	return func() { slowTicker.Stop(); cancel() }
}
