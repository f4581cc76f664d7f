// Package worker talks to the external scraping worker over HTTP.
//
// The worker owns the actual scraping and document generation. applytrack
// only checks its health, asks it to run maintenance and reads back its
// maintenance statistics.
package worker
