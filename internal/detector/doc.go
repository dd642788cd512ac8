// Package detector implements the local heartbeat failure detector.
// It is local: it only uses evidence observed by the node it runs on
// (messages received, probe acks), never second-hand rumours.
//
// Limitations:
// - Timeout based, no adaptive (phi accrual) suspicion scoring
// - Suspicion is not gossiped for refutation by the suspect itself
package detector
