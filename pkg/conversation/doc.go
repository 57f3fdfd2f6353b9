// Package conversation implements a tree-based conversation structure for
// branching chat histories.
//
// Conversations are stored as a tree of message nodes connected by parent
// links. Retrying a message forks a new branch instead of overwriting the
// original, and an active leaf pointer selects which linear history is
// currently rendered. The package exposes traversal, insertion,
// sibling navigation and active-path reconstruction, together with a
// persisted JSON document format for whole-tree load and save.
package conversation
