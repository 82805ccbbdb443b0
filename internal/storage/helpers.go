package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// toConfigData accepts a string, []byte or a JSON-serializable value.
func toConfigData(config any) (sql.NullString, error) {
	var data sql.NullString

	switch v := config.(type) {
	case nil:
	case string:
		data.Valid = true
		data.String = v

	case []byte:
		data.Valid = true
		data.String = string(v)

	default:
		p, err := json.Marshal(v)
		if err != nil {
			return data, fmt.Errorf("marshaling config: %w", err)
		}
		data.Valid = true
		data.String = string(p)
	}
	return data, nil
}

func toNullString(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}

// migrateLogger routes migration progress to slog.
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l migrateLogger) Verbose() bool {
	return false
}
