// Package track follows a traveler along a planned route.
//
// A Tracker holds the route polyline and, for every position fix, splits it
// into the part already walked and the part still ahead. When a fix lands
// further from the route than the off-route threshold the Tracker drops the
// route, stops its position subscription and reports the deviation so the
// caller can plan a new route from where the traveler actually is.
//
// The Tracker never talks to geocoders or routing services and is not safe
// for concurrent use; its owner serializes calls.
package track
