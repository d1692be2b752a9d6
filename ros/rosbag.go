// Package ros reads scan increments recorded in ROS bags.
package ros

import (
	"bufio"
	"io"
	"os"

	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()
	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "unable to read ros bag %q", filename)
	}
	return rb, nil
}

// MessagesForTopic returns the JSON encoding of every message recorded on topic, in bag order.
// A topic with no messages is an error.
func MessagesForTopic(rb *rosbag.RosBag, topic string) ([][]byte, error) {
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return t == topic },
		false,
	); err != nil {
		return nil, errors.Wrapf(err, "error while parsing bag to JSON")
	}

	msgs := rb.TopicsAsJSON[topic]
	if msgs == nil {
		return nil, errors.Errorf("no messages for topic %s", topic)
	}
	return splitMessages(msgs)
}

func splitMessages(r io.Reader) ([][]byte, error) {
	in := bufio.NewReader(r)
	var all [][]byte
	for {
		line, err := in.ReadBytes('\n')
		if len(line) > 1 || (len(line) == 1 && line[0] != '\n') {
			if line[len(line)-1] == '\n' {
				line = line[:len(line)-1]
			}
			all = append(all, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return all, nil
			}
			return nil, err
		}
	}
}
