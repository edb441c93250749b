package util

import "errors"

var (
	ErrAttemptNotFound      = errors.New("exam attempt not found")
	ErrAttemptForbidden     = errors.New("user does not own this attempt")
	ErrAttemptCompleted     = errors.New("exam attempt already completed")
	ErrQuestionNotFound     = errors.New("question not found")
	ErrSampleAnswerMissing  = errors.New("question has no sample answer")
	ErrSubmissionInProgress = errors.New("submission for this question is already in progress")
	ErrEmptyAudio           = errors.New("audio file is empty")
	ErrAudioTooLarge        = errors.New("audio file is too large")
	ErrAudioTooLong         = errors.New("audio recording is too long")
	ErrUnsupportedAudio     = errors.New("unsupported audio type")
	ErrForeignAudioURL      = errors.New("audio url is not served by this service's storage")
)
