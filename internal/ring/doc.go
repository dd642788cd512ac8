// Package ring implements a consistent hashing view over the current
// group members. Consumers of the membership agent use it to map their
// keys onto live members with minimal movement when the group changes.
package ring
