// Package store holds the vector store backends. All of them rank by cosine
// distance so results are comparable across backends.
package store

import (
	"regexp"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func validTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

func checkDimension(want int, v domain.Vector) error {
	if len(v) != want {
		return errs.New(errs.CodeInvalidInput, "vector dimension mismatch",
			errs.Field("expected", want), errs.Field("actual", len(v)))
	}
	return nil
}
