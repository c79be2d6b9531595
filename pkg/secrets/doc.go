// Package secrets persists protected key-value credentials in a single
// JSON file.
//
// Invariants:
// - The backing file is always fully-old or fully-new content; mutations
//   go through a temp file and an atomic rename, never an in-place
//   truncate.
// - Values pass through a Protector before storage. The default
//   AES-256-GCM protector keys off a per-user 0600 file, so blobs are
//   useless outside the originating account.
// - A corrupt or unreadable backing file reads as an empty store; write
//   failures surface to the caller and leave memory matching disk.
package secrets
