package source

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/icpslam/logging"
	"go.viam.com/icpslam/ros"
)

// ReplayBag hands every PointCloud2 recorded on topic in the bag fn to handle, in bag order.
// Clouds without a frame are labelled defaultFrame. Messages that cannot be decoded are logged and
// skipped.
func ReplayBag(ctx context.Context, fn, topic, defaultFrame string, handle Handler, logger logging.Logger) (int, error) {
	rb, err := ros.ReadBag(fn)
	if err != nil {
		return 0, err
	}
	msgs, err := ros.MessagesForTopic(rb, topic)
	if err != nil {
		return 0, err
	}
	logger.Infow("replaying bag", "file", fn, "topic", topic, "messages", len(msgs))
	return replayMessages(ctx, fn, msgs, defaultFrame, handle, logger)
}

func replayMessages(
	ctx context.Context,
	fn string,
	msgs [][]byte,
	defaultFrame string,
	handle Handler,
	logger logging.Logger,
) (int, error) {
	handled := 0
	for i, data := range msgs {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		name := fmt.Sprintf("%s#%d", fn, i)
		msg, err := ros.ParsePointCloud2Message(data)
		if err != nil {
			logger.Warnw("skipping undecodable message", "message", name, "error", err)
			continue
		}
		cloud, err := msg.ToPointCloud(defaultFrame)
		if err != nil {
			logger.Warnw("skipping undecodable message", "message", name, "error", err)
			continue
		}
		if err := handle(ctx, name, cloud); err != nil {
			return handled, errors.Wrapf(err, "handling %s", name)
		}
		handled++
	}
	return handled, nil
}
