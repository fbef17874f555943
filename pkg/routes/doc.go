// Package routes rewrites the default route of the pair's route tables.
//
// Every table is read before it is written, so reapplying an intent that has
// already converged makes no mutating calls. Missing default routes are
// created rather than treated as errors. Transient cloud errors are retried
// with exponential backoff; not-found errors are not, since retrying cannot
// make a deleted route table reappear.
package routes
