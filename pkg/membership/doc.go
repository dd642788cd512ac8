// Package membership implements a replicated node group membership
// state machine, NodeMembership, with an interface to an external
// networking layer:
//
//   - Poll queries the configured local failure detector for any new
//     failures and outputs gossip messages for the networking layer to
//     send to remote nodes.
//   - HandleMessage handles a message received by the networking layer
//     from a remote node.
//   - Group returns the currently known group members.
//
// Membership claims travel as observations attached to hash-chained
// gossip events. An add/remove observation takes effect once events
// created by a strict majority of the current group carry it in their
// ancestry, so all correct nodes converge on the same group from the
// same event set.
//
// Limitations:
// - Crash-stop model only, no Byzantine fault tolerance
// - A removed node cannot rejoin under the same ID
package membership
