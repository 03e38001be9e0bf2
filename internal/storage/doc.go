// Package storage persists named JSON documents (jobs, subscriptions,
// reactable mappings). Each document is read and written whole; there is
// no cross-document transaction.
package storage
