// Package archive assembles the final application archive.
//
// An [Assembler] combines the compiled resource package, the bytecode blob,
// secondary resource trees, entries of dependency archives and native
// payloads into one zip archive, then seals it.
//
// # Lifecycle
//
//	StateCreated -> StateOpen -> StateSealed
//
// [Open] validates the mandatory inputs and the signing request, then opens
// the output and absorbs the resource package and bytecode. Add calls are
// accepted in any order while open. [Assembler.Seal] writes the archive
// metadata, signs it when signing material was supplied, and makes the
// assembler terminal.
//
// # Duplicates
//
// Every candidate entry is digested. Re-adding a committed path with
// identical bytes is a no-op; different bytes fail the call with
// [*DuplicateEntryError] naming both origins. Each add call is checked as a
// whole before anything is written, so a rejected call leaves the output
// unchanged.
//
// # Signing
//
// When sealed with signing material the archive carries META-INF/MANIFEST.MF
// with a SHA-256 digest per entry, a signature file (<ALIAS>.SF) digesting
// the manifest and its sections, and <ALIAS>.SIG holding the PEM signature
// of the signature file and the certificate chain.
package archive
