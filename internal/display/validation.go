package display

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxNameLength = 100

var macRegex = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// ValidateMAC checks that mac is six hex octets separated by ':' or '-'.
func ValidateMAC(mac string) error {
	if !macRegex.MatchString(mac) {
		return fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}
	return nil
}

// NormalizeMAC validates mac and returns it upper-cased with ':' separators.
func NormalizeMAC(mac string) (string, error) {
	mac = strings.TrimSpace(mac)
	if err := ValidateMAC(mac); err != nil {
		return "", err
	}
	return strings.ToUpper(strings.ReplaceAll(mac, "-", ":")), nil
}

// DefaultName derives a display name from the last MAC octet, e.g.
// "AA:BB:CC:DD:EE:FF" becomes "iDotMatrix FF".
func DefaultName(mac string) string {
	if len(mac) < 2 {
		return "iDotMatrix"
	}
	return "iDotMatrix " + strings.ToUpper(mac[len(mac)-2:])
}

// ValidateOptions range-checks per-display options.
func ValidateOptions(o Options) error {
	err := getValidator().Struct(o)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(msgs, "; "))
}

// ValidateDisplay checks a display record before it is persisted.
// MACAddress must already be normalised.
func ValidateDisplay(d *Display) error {
	if err := ValidateMAC(d.MACAddress); err != nil {
		return err
	}
	name := strings.TrimSpace(d.Name)
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: must be 1-%d characters", ErrInvalidName, maxNameLength)
	}
	return ValidateOptions(d.Options)
}

// GenerateID returns a new display ID.
func GenerateID() string {
	return uuid.New().String()
}
