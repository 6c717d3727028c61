// Package transform resolves request modifiers into an ordered list of
// transformation steps and runs them against an image engine.
//
// # Steps
//
// The step table is static. Each step has a canonical name, optional
// aliases (w for width, q for quality, ...), an optional ordering key and an
// apply function. Resolve drops modifiers with no step and sorts the rest by
// ordering key, falling back to the modifier name, so the same modifier set
// always yields the same step order regardless of map iteration.
//
// Context steps (quality, fit, position, background, enlarge, kernel) only
// record settings in a Context; later steps read them.
//
// # Formats
//
// NegotiateFormat chooses the output format: an explicit f or format
// modifier when supported, else the source format when supported, else
// jpeg. SVG sources with no explicit format bypass the engine and go through
// the SVG optimizer.
package transform
