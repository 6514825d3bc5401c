// Package crawler defines the records, outcomes, errors, and collaborator
// interfaces shared by the animal gallery pipeline: the listing parser, the
// fetcher, the image-acquisition workers, and the report builder.
package crawler
