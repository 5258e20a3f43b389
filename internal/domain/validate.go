package domain

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate проверяет правило перед загрузкой в движок.
// Неизвестный metric_path не считается ошибкой: такое правило просто никогда не сработает.
func (r AlertRule) Validate() error {
	if err := validatorInstance().Struct(r); err != nil {
		return fmt.Errorf("invalid rule %q: %w", r.ID, err)
	}
	return nil
}

// Validate проверяет входящее событие ошибки.
func (e ErrorEvent) Validate() error {
	if err := validatorInstance().Struct(e); err != nil {
		return fmt.Errorf("invalid error event: %w", err)
	}
	return nil
}
