package catalog

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct-level constraints and cross references that make the
// dataset unusable: duplicate ids and fields, specifications pointing at
// unknown fields. Dangling requires/exclusion ids are tolerated; the engine
// logs and skips them at use time.
func (d *Dataset) Validate() error {
	if d == nil {
		return fmt.Errorf("dataset is nil")
	}
	if err := structValidator().Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid dataset: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid dataset: %w", err)
	}

	fields := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if fields[f.FieldName] {
			return fmt.Errorf("invalid dataset: duplicate field %q", f.FieldName)
		}
		fields[f.FieldName] = true
	}
	ids := make(map[string]bool, len(d.Specifications))
	for _, s := range d.Specifications {
		if ids[s.ID] {
			return fmt.Errorf("invalid dataset: duplicate specification %q", s.ID)
		}
		ids[s.ID] = true
		if s.FieldName != "" && !fields[s.FieldName] {
			return fmt.Errorf("invalid dataset: specification %q references unknown field %q", s.ID, s.FieldName)
		}
	}
	return nil
}
