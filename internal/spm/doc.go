// Package spm builds the Saliency Polar Map: an egocentric grid with a
// log-scale range axis and a linear bearing axis over the sensor's visible
// arc.
//
// Responsibilities: observation validation, range/bearing binning, and the
// temperature-controlled soft aggregation of each cell (softmin distance,
// soft-max risk). Key types: Observation, Config, Map, Temperatures.
//
// A high temperature makes every cell report its nearest, riskiest
// observation (sharp perception); a low temperature averages them (blurred
// perception). The temperatures come from the precision modulator.
//
// Dependency rule: spm depends only on config and geom. It never talks to
// the forward model or the optimizer.
package spm
