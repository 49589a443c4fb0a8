package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"datacore/internal/metrics"
)

var (
	ErrConflict         = errors.New("repository: conflict")
	ErrReference        = errors.New("repository: referenced record missing")
	ErrStorage          = errors.New("repository: storage failure")
	ErrInvalidField     = errors.New("repository: invalid field")
	ErrStatusTransition = errors.New("repository: invalid status transition")
)

// classify 把驱动错误归类为仓储错误；已归类的错误原样返回。
func classify(entity, op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrConflict, ErrReference, ErrStorage, ErrInvalidField, ErrStatusTransition} {
		if errors.Is(err, known) {
			return err
		}
	}
	kind, sentinel := "storage", ErrStorage
	switch {
	case isDuplicate(err):
		kind, sentinel = "conflict", ErrConflict
	case isForeignKey(err):
		kind, sentinel = "reference", ErrReference
	}
	metrics.RepositoryErrors.WithLabelValues(entity, kind).Inc()
	return fmt.Errorf("%w: %s %s: %v", sentinel, entity, op, err)
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKey(err error) bool {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == 1451 || me.Number == 1452) {
		return true
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidField, fmt.Sprintf(format, args...))
}
