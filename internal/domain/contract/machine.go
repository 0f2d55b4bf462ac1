package contract

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// The functions in this file never mutate their input and perform no I/O.
// Version bumps and persistence belong to the session registry.

// AssertMutable fails once the contract has been signed.
func AssertMutable(s Session) error {
	if s.IsSigned() {
		return fmt.Errorf("%w: session %s", ErrImmutableSession, s.SessionID)
	}
	return nil
}

// EnterReview moves a draft into review and attaches the review summary.
func EnterReview(s Session, summary ReviewSummary, now time.Time) (Session, error) {
	if err := AssertMutable(s); err != nil {
		return s, err
	}
	if s.ContractStatus != StatusDraft {
		return s, transitionError(s.ContractStatus, StatusReview)
	}
	next := s.Clone()
	next.ContractStatus = StatusReview
	next.Review = &summary
	next.LastActivityAt = Timestamp(now)
	return next, nil
}

// Approve moves a reviewed contract to approved with the proposed ceiling.
// The approved cost is the review estimate capped at the ceiling.
func Approve(s Session, proposedCeiling float64, now time.Time) (Session, error) {
	if err := AssertMutable(s); err != nil {
		return s, err
	}
	if s.ContractStatus != StatusReview {
		return s, transitionError(s.ContractStatus, StatusApproved)
	}
	if math.IsNaN(proposedCeiling) || math.IsInf(proposedCeiling, 0) || proposedCeiling < 0 {
		return s, fmt.Errorf("%w: %w: proposed ceiling must be a non-negative number", ErrInvalidTransition, ErrInvalidInput)
	}
	estimated := 0.0
	if s.Review != nil {
		estimated = s.Review.EstimatedCost
	}
	cost := math.Min(estimated, proposedCeiling)

	next := s.Clone()
	next.ContractStatus = StatusApproved
	next.ApprovedCeiling = &proposedCeiling
	next.ApprovedCost = &cost
	next.LastActivityAt = Timestamp(now)
	return next, nil
}

// Sign freezes an approved contract and stamps its integrity hash.
func Sign(s Session, signer string, now time.Time) (Session, error) {
	if err := AssertMutable(s); err != nil {
		return s, err
	}
	if s.ContractStatus != StatusApproved {
		return s, transitionError(s.ContractStatus, StatusSigned)
	}
	signer = strings.TrimSpace(signer)
	if signer == "" {
		signer = s.OwnerID
	}
	signedAt := Timestamp(now)

	next := s.Clone()
	next.ContractStatus = StatusSigned
	next.SignedAt = &signedAt
	next.SignedBy = signer
	next.LastActivityAt = signedAt
	hash, err := IntegrityHash(next)
	if err != nil {
		return s, err
	}
	next.IntegrityHash = hash
	return next, nil
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
