// Package app is the root package of all domain related packages.
//
// All entity types are defined in this package.
package app

import "errors"

var (
	// ErrNotFound signals that an object could not be found in storage.
	ErrNotFound = errors.New("object not found")
	// ErrInvalid signals that an operation was called with invalid arguments.
	ErrInvalid = errors.New("invalid arguments")
	// ErrValidation signals that an uploaded workbook failed validation.
	// Validation errors abort the whole upload and are surfaced verbatim.
	ErrValidation = errors.New("validation error")
	// ErrUpload signals that an upload failed mid-way and was rolled back.
	ErrUpload = errors.New("upload error")
)

// SystemState keys for durable singleton facts.
const (
	StateLatestUpdate = "latest_update"
	StateSDEVersion   = "sde_version"
)
