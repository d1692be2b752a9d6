// Package pointcloud defines a point cloud and provides an implementation for one.
//
// Clouds are ordered, may contain duplicate points, and are immutable once built. Every
// cloud carries the name of the frame its points are expressed in.
package pointcloud

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
)

// Header names the frame a cloud is expressed in and when it was captured.
type Header struct {
	FrameID string
	Stamp   time.Time
}

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	totalX, totalY, totalZ float64
	count                  int
}

// PointCloud is a general purpose container of points.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// At returns the i'th point of the cloud.
	At(i int) r3.Vector

	// Points returns a copy of the points in order.
	Points() []r3.Vector

	// Header returns the frame and capture time of the cloud.
	Header() Header

	// MetaData returns meta data.
	MetaData() MetaData

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector) bool)
}

// NewMetaData creates a new MetaData.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the bounds and centroid with the given point.
func (meta *MetaData) Merge(v r3.Vector) {
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)

	meta.totalX += v.X
	meta.totalY += v.Y
	meta.totalZ += v.Z
	meta.count++
}

// Center returns the centroid of the merged points. An empty cloud has its center at the origin.
func (meta *MetaData) Center() r3.Vector {
	if meta.count == 0 {
		return r3.Vector{}
	}
	n := float64(meta.count)
	return r3.Vector{X: meta.totalX / n, Y: meta.totalY / n, Z: meta.totalZ / n}
}

// MaxSideLength returns the longest edge of the bounding box.
func (meta *MetaData) MaxSideLength() float64 {
	if meta.count == 0 {
		return 0
	}
	return math.Max(meta.MaxX-meta.MinX, math.Max(meta.MaxY-meta.MinY, meta.MaxZ-meta.MinZ))
}

// CloudCentroid returns the centroid of the pointcloud as a vector.
func CloudCentroid(pc PointCloud) r3.Vector {
	meta := pc.MetaData()
	return meta.Center()
}
