// Package harvest contains the core catalog harvesting engine: category
// discovery, paginated per-category harvesting, rate control, retry
// classification, deduplication, and the job runner that ties them together.
package harvest
