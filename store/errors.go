package store

import (
	"errors"

	"gorm.io/gorm"

	"travel-missions/apperr"
)

// ErrInviteCodeTaken is returned by CreateChallenge on an invite code clash.
var ErrInviteCodeTaken = errors.New("invite code already in use")

// ErrMissionAlreadyLinked is returned by AddChallengeMissions when a mission
// of the batch is already part of the challenge. Nothing is linked.
var ErrMissionAlreadyLinked = errors.New("mission already linked to challenge")

// ErrChallengeCompleted rejects changes to the mission pool of a challenge
// whose completed_at is stamped.
var ErrChallengeCompleted = apperr.New(apperr.InvalidTransition, "challenge is already completed")

// NotFound builds the domain not-found error used by every implementation.
func NotFound(what string) error {
	return apperr.New(apperr.NotFound, what+" not found")
}

// translate maps gorm's not-found into the domain error.
func translate(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound(what)
	}
	return err
}
