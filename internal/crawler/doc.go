// Package crawler holds the shared domain model of the media harvester:
// work units, raw listing items, enrichment metadata, normalized records,
// the collaborator interfaces the pipeline is assembled from, and the
// error taxonomy used to decide how far a failure propagates.
package crawler
