// Package services defines the business logic for the job queue, offer
// ingestion, manual mapping, catalog maintenance and audits.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into HTTP status codes or CLI exit codes happens in the
// handler and command layers.
package services

import "errors"

// Queue errors.
var (
	// ErrJobNotFound indicates that no job exists with the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotRunning is returned by Complete and Fail when the job is not
	// in the running state (or is held by another worker).
	ErrJobNotRunning = errors.New("job is not running")

	// ErrJobSucceeded is returned when asked to requeue a job that already
	// succeeded.
	ErrJobSucceeded = errors.New("job already succeeded")
)

// Catalog and mapping errors.
var (
	// ErrProductNotFound indicates an offer references an unknown product.
	ErrProductNotFound = errors.New("product not found")

	// ErrOfferNotFound indicates that no canonical offer exists with the id.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrEntityNotFound indicates that no ingestion entity exists with the id.
	ErrEntityNotFound = errors.New("ingestion entity not found")

	// ErrCanonicalNotFound is returned when a manual mapping targets a
	// record that does not exist.
	ErrCanonicalNotFound = errors.New("canonical record not found")

	// ErrInvalidCanonicalType is returned for mapping targets other than
	// offer, product or plant.
	ErrInvalidCanonicalType = errors.New("canonical type must be offer, product or plant")

	// ErrActorRequired and ErrReasonRequired guard the override audit log.
	ErrActorRequired  = errors.New("actor is required")
	ErrReasonRequired = errors.New("reason is required")

	// ErrUnknownAudit is returned for audit kinds outside the known set.
	ErrUnknownAudit = errors.New("unknown audit kind")
)
