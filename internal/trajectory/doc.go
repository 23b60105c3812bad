// Package trajectory converts operator scan parameters into hardware
// consistent raster plans.
//
// Pitches are quantized to whole motor steps with a minimum step count, each
// axis is normalized so start <= stop, and the grid is widened until it covers
// the requested extent. Area plans also carry snake-ordered rows whose fast
// axis bounds sit half a pitch outside the pixel centres, plus one closing row
// on the slow axis. Quantization changes are reported as Adjustments rather
// than errors.
package trajectory
