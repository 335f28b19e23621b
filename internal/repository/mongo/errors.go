package mongo

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"alcyxob/coaching-engine/internal/repository"
)

// Server error codes worth another attempt of the whole transaction.
const (
	codeWriteConflict     = 112
	codeNoSuchTransaction = 251
	codeLockTimeout       = 24
)

// IsTransient classifies driver errors that are worth retrying: anything
// labelled transient by the server, network failures, timeouts and write
// conflicts between concurrent transactions.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if repository.IsTransient(err) {
		return true
	}

	var labeled mongo.LabeledError
	if errors.As(err, &labeled) {
		if labeled.HasErrorLabel("TransientTransactionError") ||
			labeled.HasErrorLabel("UnknownTransactionCommitResult") ||
			labeled.HasErrorLabel("RetryableWriteError") {
			return true
		}
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.HasErrorCode(codeWriteConflict) ||
			serverErr.HasErrorCode(codeNoSuchTransaction) ||
			serverErr.HasErrorCode(codeLockTimeout)
	}
	return false
}

// translateError maps driver errors onto the repository vocabulary. Errors the
// driver did not produce (a domain conflict returned from a transaction body)
// pass through unchanged.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case repository.IsTransient(err):
		return err
	case errors.Is(err, mongo.ErrNoDocuments):
		return repository.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", repository.ErrDuplicate, err)
	case IsTransient(err):
		return &repository.TransientError{Err: err}
	default:
		return err
	}
}
