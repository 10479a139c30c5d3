// Package account contains the domain model of a House Cup participant.
//
// An Account is owned by two writers. The identity and catalog collaborators
// own the profile (role, house, grade, display name). The transaction
// coordinator owns the counters (PointsEarned, PointsSpent) and is the only
// code path that may change them.
//
// # Invariant
//
// After every committed transaction:
//
//	AvailablePoints() == PointsEarned - PointsSpent >= 0
//
// Credit and Debit enforce this on the in-memory value; the stores persist
// the result only through a version-checked conditional write.
//
// # Roles
//
//	admin       approves shop requests, may do anything a teacher can
//	teacher     awards points, fulfils purchases
//	student     buys items, belongs to a house and a grade
//	unapproved  default for a freshly signed-in account; can do nothing
package account
