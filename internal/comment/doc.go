// Package comment builds comment forests from raw upstream payloads.
//
// Two payload shapes are supported:
//   - nested listings, where every comment carries its replies inline
//     (ParseNested)
//   - flat lists with explicit parent pointers, as returned by archive
//     search APIs (BuildTreeFromFlat)
//
// Both drop noise (bot, moderator and deleted comments) using ShouldFilter.
// They differ in what happens to the replies of a dropped comment: the nested
// parser drops the whole subtree, while the flat builder promotes the
// surviving replies to the root of the forest.
package comment
