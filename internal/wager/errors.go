package wager

import "errors"

var (
	ErrBetNotFound         = errors.New("bet not found")
	ErrMatchNotFound       = errors.New("match not found")
	ErrNotOwner            = errors.New("not the bet owner")
	ErrAlreadyMatched      = errors.New("bet already matched")
	ErrAlreadyCompleted    = errors.New("match already completed")
	ErrSelfMatch           = errors.New("cannot match your own bet")
	ErrExpired             = errors.New("bet expired")
	ErrInvalidAmount       = errors.New("stake must be positive")
	ErrInvalidWinner       = errors.New("winner is not a match participant")
	ErrInsufficientBalance = errors.New("insufficient balance")
)
