// Package quorum provides majority thresholds and vote accounting for
// membership decisions. A pending add/remove observation takes effect
// once events from a strict majority of the currently effective group
// carry it in their ancestry; this package counts those endorsements.
package quorum
