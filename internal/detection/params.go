package detection

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/projectkepler/kepler/pkg/models"
)

const (
	DefaultConfidence   = 0.5
	DefaultOverlap      = 0.45
	DefaultModelVariant = "default"
)

// DefaultTargetObjects is used when a submission names no target classes.
func DefaultTargetObjects() []string {
	return []string{"Fire Extinguisher", "Space Suit", "Oxygen Cylinder"}
}

// ParamsInput is the caller's view of JobParameters. Nil or empty fields take
// their defaults; a pointer distinguishes an omitted threshold from zero.
type ParamsInput struct {
	Confidence    *float64
	Overlap       *float64
	ModelVariant  string
	TargetObjects []string
}

// resolve fills defaults and returns the immutable job parameters.
func (in ParamsInput) resolve() models.JobParameters {
	p := models.JobParameters{
		Confidence:    DefaultConfidence,
		Overlap:       DefaultOverlap,
		ModelVariant:  DefaultModelVariant,
		TargetObjects: DefaultTargetObjects(),
	}
	if in.Confidence != nil {
		p.Confidence = *in.Confidence
	}
	if in.Overlap != nil {
		p.Overlap = *in.Overlap
	}
	if v := strings.TrimSpace(in.ModelVariant); v != "" {
		p.ModelVariant = v
	}
	if len(in.TargetObjects) > 0 {
		p.TargetObjects = dedupe(in.TargetObjects)
	}
	return p
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts validator output into an ErrInvalidInput error
// naming the first offending field.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "gte", "lte":
		return fmt.Errorf("%w: %s must be between 0 and 1", models.ErrInvalidInput, field)
	case "oneof":
		return fmt.Errorf("%w: %s must be one of %s", models.ErrInvalidInput, field, fe.Param())
	case "min":
		return fmt.Errorf("%w: %s must not be empty", models.ErrInvalidInput, field)
	case "required":
		return fmt.Errorf("%w: %s entries must not be blank", models.ErrInvalidInput, namespaceRoot(fe.Namespace()))
	case "max":
		return fmt.Errorf("%w: %s entries must be at most %s characters", models.ErrInvalidInput, namespaceRoot(fe.Namespace()), fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", models.ErrInvalidInput, field)
	}
}

// namespaceRoot turns "JobParameters.targetObjects[2]" into "targetObjects".
func namespaceRoot(ns string) string {
	if i := strings.LastIndex(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	if i := strings.Index(ns, "["); i >= 0 {
		ns = ns[:i]
	}
	return ns
}
