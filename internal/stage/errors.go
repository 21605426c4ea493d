package stage

// errors.go defines the failure taxonomy of a staging run and the coded
// messages shown to users.
//
// Codes are grouped by category:
//
//	CFG001 - Configuration: dataset root or archive path unusable
//	ZIP001 - Archive not found
//	ZIP002 - Corrupt archive: the archive or a nested archive cannot be read
//	CLN001 - Partial cleanup: a stale table could not be removed
//	MOV001 - Table move failed
//	RUN001 - Another run is already in progress
//	RUN002 - Run cancelled or timed out
//	TBL001 - Table not found
//	TBL002 - Unsupported table format

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrConfig marks an unusable dataset root or archive location.
	ErrConfig = errors.New("configuration error")

	// ErrArchiveNotFound is returned when the input archive does not exist.
	ErrArchiveNotFound = errors.New("archive not found")

	// ErrCorruptArchive is returned when an archive cannot be parsed or holds
	// an entry that would be written outside the destination.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrPartialCleanup is returned when a stale table cannot be removed.
	ErrPartialCleanup = errors.New("partial cleanup")

	// ErrMoveTable is returned when a staged table cannot be moved into csv/.
	ErrMoveTable = errors.New("move table")

	// ErrRunInProgress is returned when another run holds the run gate.
	ErrRunInProgress = errors.New("run already in progress")

	// ErrTableNotFound is returned for lookups of an unknown table file.
	ErrTableNotFound = errors.New("table not found")

	// ErrUnsupportedFormat is returned for table files that are neither csv nor parquet.
	ErrUnsupportedFormat = errors.New("unsupported table format")
)

// UserMessage is a coded, user-facing description of a failure.
type UserMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

type errorMapping struct {
	target error
	msg    UserMessage
}

var errorMappings = []errorMapping{
	{ErrRunInProgress, UserMessage{"RUN001", "Another staging run is in progress", "Wait for it to finish and try again"}},
	{ErrArchiveNotFound, UserMessage{"ZIP001", "The dataset archive was not found", "Download the archive and check ARCHIVE_PATH"}},
	{ErrCorruptArchive, UserMessage{"ZIP002", "The dataset archive is corrupt", "Download the archive again"}},
	{ErrPartialCleanup, UserMessage{"CLN001", "Old table files could not be removed", "Close programs using the csv directory and rerun"}},
	{ErrMoveTable, UserMessage{"MOV001", "A staged table could not be moved", "Check permissions on the dataset directory"}},
	{ErrConfig, UserMessage{"CFG001", "The dataset location is not usable", "Check DATASET_ROOT and directory permissions"}},
	{ErrTableNotFound, UserMessage{"TBL001", "Table not found", "Run staging first or check the table name"}},
	{ErrUnsupportedFormat, UserMessage{"TBL002", "Only csv and parquet tables are supported", ""}},
	{context.Canceled, UserMessage{"RUN002", "The run was cancelled", "Start a new run when ready"}},
	{context.DeadlineExceeded, UserMessage{"RUN002", "The run timed out", "Increase RUN_TIMEOUT or retry"}},
}

// MapError converts an error into a coded user message.
// A nil error yields the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.msg
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "permission denied") {
		return UserMessage{"CFG001", "Permission denied on the dataset directory", "Check directory permissions"}
	}
	return UserMessage{"ERR000", "An unexpected error occurred", "Check the logs for details"}
}
