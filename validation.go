package auth

import (
	"errors"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field -> message map.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["form"] = err.Error()
	return out
}

// validationError turns an ozzo result into a rich validation error.
// The message names the first failing field so clients without field
// handling still get something useful.
func validationError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	fields := FormatValidationErrorToMap(err)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		msg = msg + ": " + keys[0] + " " + fields[keys[0]]
	}

	return goerrors.New(msg, goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"fields": fields})
}
