// Package lanes maps image-plane points to lane indices.
//
// A Layout holds the region of interest and an ordered set of lane
// boundaries, each a straight segment from the bottom of the frame to the
// top. Classification is pure: the same point and layout always produce the
// same lane, and nothing is cached between frames.
package lanes
