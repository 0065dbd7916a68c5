// Package license implements the ExamShield license lifecycle.
//
// A Store holds every Record in memory and writes each mutation through to a
// Backend before committing it. The Registry drives registration, payment
// activation, revocation, extension and server-side trials. The Binder
// enforces device limits during verification.
//
// Operations on one license key are serialized by a keyed mutex, and
// registrations are serialized per normalized email. Errors follow a small
// taxonomy of sentinels (ErrNotFound, ErrConflict, ...) with typed values
// (ValidationError, ConflictError, DenialError, StorageError) that carry the
// details clients display.
package license
