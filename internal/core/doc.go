// Package core provides the domain models for the partition–compute–merge
// pipeline.
//
// # Core Types
//
// Dataset: the event file being processed, with its global time bounds and
// the spatial region recorded in its header.
// Region: a circular sky region (center RA/Dec plus radius, in degrees).
// Interval: one half-open time slice [Start, Stop) assigned to one worker.
// WorkItem: an Interval combined with the shared invocation parameters.
//
// # Design Principles
//
//  1. Every type here is an immutable value once built.
//  2. Partitioning is a pure function of (start, stop, n).
//  3. Errors carry enough context (stage, interval, path) to retry by hand.
package core
