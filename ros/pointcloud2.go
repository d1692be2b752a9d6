package ros

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	pc "go.viam.com/icpslam/pointcloud"
)

// sensor_msgs/PointField datatypes.
const (
	Float32Field = 7
	Float64Field = 8
)

// Stamp is a ROS time.
type Stamp struct {
	Secs  int64 `json:"secs"`
	Nsecs int64 `json:"nsecs"`
}

// Time converts the stamp.
func (s Stamp) Time() time.Time {
	return time.Unix(s.Secs, s.Nsecs)
}

// IsZero reports an unset stamp.
func (s Stamp) IsZero() bool {
	return s.Secs == 0 && s.Nsecs == 0
}

// StampFromTime converts t into a ROS time.
func StampFromTime(t time.Time) Stamp {
	return Stamp{Secs: t.Unix(), Nsecs: int64(t.Nanosecond())}
}

// Header is a std_msgs/Header.
type Header struct {
	Seq     int    `json:"seq"`
	Stamp   Stamp  `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// PointField is a sensor_msgs/PointField.
type PointField struct {
	Name     string `json:"name"`
	Offset   int    `json:"offset"`
	Datatype int    `json:"datatype"`
	Count    int    `json:"count"`
}

// ByteArray decodes a uint8[] field written either as base64 or as a list of numbers.
type ByteArray []byte

// UnmarshalJSON accepts both encodings.
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var values []int
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return err
		}
		out := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > math.MaxUint8 {
				return errors.Errorf("byte %d out of range: %d", i, v)
			}
			out[i] = byte(v)
		}
		*b = out
		return nil
	}
	var raw []byte
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	*b = raw
	return nil
}

// PointCloud2 is a sensor_msgs/PointCloud2.
type PointCloud2 struct {
	Header      Header       `json:"header"`
	Height      int          `json:"height"`
	Width       int          `json:"width"`
	Fields      []PointField `json:"fields"`
	IsBigendian bool         `json:"is_bigendian"`
	PointStep   int          `json:"point_step"`
	RowStep     int          `json:"row_step"`
	Data        ByteArray    `json:"data"`
	IsDense     bool         `json:"is_dense"`
}

// PointCloud2Message is one recorded PointCloud2 with the time it was written to the bag.
type PointCloud2Message struct {
	Meta Stamp       `json:"meta"`
	Data PointCloud2 `json:"data"`
}

// ParsePointCloud2Message decodes the JSON form of a recorded PointCloud2.
func ParsePointCloud2Message(data []byte) (*PointCloud2Message, error) {
	var msg PointCloud2Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "decoding PointCloud2 message")
	}
	return &msg, nil
}

type xyzReader func(buf []byte) float64

func fieldReader(f PointField, order binary.ByteOrder) (xyzReader, int, error) {
	if f.Count > 1 {
		return nil, 0, errors.Errorf("field %s has count %d, only 1 is supported", f.Name, f.Count)
	}
	switch f.Datatype {
	case Float32Field:
		return func(buf []byte) float64 {
			return float64(math.Float32frombits(order.Uint32(buf)))
		}, 4, nil
	case Float64Field:
		return func(buf []byte) float64 {
			return math.Float64frombits(order.Uint64(buf))
		}, 8, nil
	default:
		return nil, 0, errors.Errorf("field %s has unsupported datatype %d", f.Name, f.Datatype)
	}
}

// ToPointCloud extracts the x y z fields. Points with a non finite coordinate are dropped. The
// cloud is stamped with the header time, or the bag time when the header has none, and labelled
// with the header frame or defaultFrame when the header has none.
func (msg *PointCloud2Message) ToPointCloud(defaultFrame string) (pc.PointCloud, error) {
	cloud := msg.Data
	var order binary.ByteOrder = binary.LittleEndian
	if cloud.IsBigendian {
		order = binary.BigEndian
	}

	readers := make([]xyzReader, 3)
	offsets := make([]int, 3)
	for i, name := range []string{"x", "y", "z"} {
		found := false
		for _, f := range cloud.Fields {
			if f.Name != name {
				continue
			}
			read, size, err := fieldReader(f, order)
			if err != nil {
				return nil, err
			}
			if f.Offset < 0 || f.Offset+size > cloud.PointStep {
				return nil, errors.Errorf("field %s at offset %d does not fit a %d byte point", name, f.Offset, cloud.PointStep)
			}
			readers[i], offsets[i], found = read, f.Offset, true
			break
		}
		if !found {
			return nil, errors.Errorf("PointCloud2 has no %s field", name)
		}
	}

	rowStep := cloud.RowStep
	if rowStep == 0 {
		rowStep = cloud.Width * cloud.PointStep
	}
	if cloud.Height > 0 && cloud.Width > 0 {
		need := (cloud.Height-1)*rowStep + cloud.Width*cloud.PointStep
		if len(cloud.Data) < need {
			return nil, errors.Errorf("PointCloud2 data has %d bytes, need %d", len(cloud.Data), need)
		}
	}

	points := make([]r3.Vector, 0, cloud.Height*cloud.Width)
	for row := 0; row < cloud.Height; row++ {
		for col := 0; col < cloud.Width; col++ {
			base := row*rowStep + col*cloud.PointStep
			p := r3.Vector{
				X: readers[0](cloud.Data[base+offsets[0]:]),
				Y: readers[1](cloud.Data[base+offsets[1]:]),
				Z: readers[2](cloud.Data[base+offsets[2]:]),
			}
			if math.IsNaN(p.X+p.Y+p.Z) || math.IsInf(p.X+p.Y+p.Z, 0) {
				continue
			}
			points = append(points, p)
		}
	}

	stamp := cloud.Header.Stamp
	if stamp.IsZero() {
		stamp = msg.Meta
	}
	frame := strings.TrimPrefix(cloud.Header.FrameID, "/")
	if frame == "" {
		frame = defaultFrame
	}
	header := pc.Header{FrameID: frame}
	if !stamp.IsZero() {
		header.Stamp = stamp.Time()
	}
	return pc.New(header, points), nil
}

// NewPointCloud2 packs cloud as an unorganized little endian float32 x y z PointCloud2.
func NewPointCloud2(cloud pc.PointCloud) PointCloud2 {
	const pointStep = 12
	data := make([]byte, 0, cloud.Size()*pointStep)
	var buf [4]byte
	for _, p := range cloud.Points() {
		for _, v := range []float64{p.X, p.Y, p.Z} {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(v)))
			data = append(data, buf[:]...)
		}
	}
	header := cloud.Header()
	out := PointCloud2{
		Header: Header{FrameID: header.FrameID},
		Height: 1,
		Width:  cloud.Size(),
		Fields: []PointField{
			{Name: "x", Offset: 0, Datatype: Float32Field, Count: 1},
			{Name: "y", Offset: 4, Datatype: Float32Field, Count: 1},
			{Name: "z", Offset: 8, Datatype: Float32Field, Count: 1},
		},
		PointStep: pointStep,
		RowStep:   cloud.Size() * pointStep,
		Data:      data,
		IsDense:   true,
	}
	if !header.Stamp.IsZero() {
		out.Header.Stamp = StampFromTime(header.Stamp)
	}
	return out
}
