/*
The sync package implements piframe's sync algorithm. It reconciles a
remote photo source against the local image store so that, after one
successful cycle, the manifest exactly matches the remote listing.

There are three views of the image set:
1) The remote listing -- what the photo source currently contains.
2) The manifest -- the last known good sync state, persisted in the store.
3) The directory -- the files actually on disk.

A cycle diffs the three views and produces a plan: items to download,
files to delete, and (for the bidirectional strategy) local changes to
push back. Every file transition is individually atomic, so a cycle that
dies partway leaves the store valid but incomplete, and the next cycle
resumes from the persisted manifest.

The algorithm only deals with files. Empty directories aren't synced.
*/
package sync
