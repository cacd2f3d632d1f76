// Package types holds the canonical data model shared across the
// validation pipeline: properties, captured network events, verdicts,
// runs, and retry-queue entries.
//
// Other packages alias or embed these types rather than redefining them,
// so wire shapes (datastore details blobs, temp-cache mirror files) are
// defined in exactly one place.
package types
