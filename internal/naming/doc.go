// Package naming turns hosts and domains into stable target identifiers.
//
// The monitoring daemon requires target identifiers that start with a letter
// and contain only letters, digits and underscores. Key derives such an
// identifier from a host or URL and is also the comparison key used when
// reconciling discovered sites against stored targets, so two spellings of
// the same site (for example "WWW.Example.com" and "https://example.com/")
// always collapse to the same key.
package naming
