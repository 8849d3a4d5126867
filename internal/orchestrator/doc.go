// Package orchestrator runs archive jobs: it starts them, fans the request out
// to registered archivers, and packages what they produce.
//
// Each job runs on its own goroutine. Archivers within a job run one at a time
// in request order, with linked archivers placed after the tool they extend.
//
// Per-site exclusivity:
//   - a keyed mutex serialises start requests for the same site in-process
//   - the job store's active-site unique index rejects a second STARTED job
//     even across processes sharing the database
//
// Failure handling:
//   - an archiver error, panic or timeout is logged and recorded in the job's
//     failed tools; the run continues with the next archiver
//   - an unregistered tool id counts as a failed tool
//   - cancellation is observed between archivers; cancelled jobs are not packaged
//   - index or zip failure marks the job FAILED with no artifact
//
// Terminal status:
//   - COMPLETE when every requested tool succeeded
//   - INCOMPLETE when at least one tool failed but packaging succeeded
//   - CANCELLED when cancellation was observed
//   - FAILED when setup or packaging failed, or the process died mid-run
package orchestrator
