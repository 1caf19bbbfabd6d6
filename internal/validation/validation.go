// Package validation registers the request rules shared by the services into
// gin's validator and renders validation failures.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	questdomain "github.com/yungbote/questline-backend/internal/domain/quest"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// Register installs the custom rules on gin's default validator. Safe to call repeatedly.
func Register() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		registerErr = Install(v)
	})
	return registerErr
}

// Install adds the rules to v.
func Install(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	rules := map[string]validator.Func{
		"future":         future,
		"quest_category": questCategory,
		"slug":           slug,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}

// future accepts time values strictly after now; zero and nil pass so the
// rule composes with omitempty.
func future(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return true
		}
		field = field.Elem()
	}
	t, ok := field.Interface().(time.Time)
	if !ok {
		return false
	}
	return t.IsZero() || t.After(time.Now())
}

func questCategory(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	for _, c := range questdomain.Categories {
		if s == c {
			return true
		}
	}
	return false
}

// slug matches lowercase ascii words joined by dashes.
func slug(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}

// Messages flattens validator errors into field -> human readable message.
// It returns nil for errors that are not validation failures.
func Messages(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fieldPath(fe)] = message(fe)
	}
	return out
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.String || fe.Kind() == reflect.Slice {
			return "must have at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.Slice {
			return "must have at most " + fe.Param() + " items"
		}
		if fe.Kind() == reflect.String {
			return "must have at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "future":
		return "must be in the future"
	case "quest_category":
		return "must be one of: " + strings.Join(questdomain.Categories, " ")
	case "slug":
		return "must contain lowercase letters, digits and dashes"
	}
	return "failed " + fe.Tag() + " validation"
}
