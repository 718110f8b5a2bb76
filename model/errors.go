package model

import "errors"

var (
	// Input and lifecycle errors surfaced to the dialogue layer.
	ErrInvalidInputShape   = errors.New("input has an invalid shape")
	ErrAlreadyResolved     = errors.New("question already resolved")
	ErrQuestionResolved    = errors.New("question is no longer open")
	ErrNoCandidates        = errors.New("no eligible candidates")
	ErrDeliveryFailure     = errors.New("delivery failed")
	ErrReportTargetMissing = errors.New("report target does not exist")
	ErrSessionConflict     = errors.New("another dialogue session is active")

	// Store-level errors.
	ErrUserDoesNotExist     = errors.New("user does not exist")
	ErrQuestionDoesNotExist = errors.New("question does not exist")
	ErrAnswerDoesNotExist   = errors.New("answer does not exist")
	ErrDeliveryDoesNotExist = errors.New("delivery does not exist")
	ErrDuplicateReport      = errors.New("answer already reported by this user")
	ErrPayloadExpired       = errors.New("button payload expired")
)
