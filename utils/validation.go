package utils

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	RegisterCustomValidations()
}

var (
	uuidPattern      = regexp.MustCompile("^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$")
	currencyPattern  = regexp.MustCompile("^[A-Z]{3}$")
	eventTypePattern = regexp.MustCompile(`^[a-z_]+\.[a-z_]+$`)
)

// ValidateStruct validates a struct using validation tags
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	return nil
}

// IsValidUUID checks if a string is a valid UUID
func IsValidUUID(uuid string) bool {
	return uuidPattern.MatchString(uuid)
}

// IsValidCurrency checks if a string is an ISO 4217 currency code shape
func IsValidCurrency(currency string) bool {
	return currencyPattern.MatchString(currency)
}

// IsValidEventType checks the domain.action event type shape
func IsValidEventType(eventType string) bool {
	return eventTypePattern.MatchString(eventType)
}

// ValidateAggregateID validates an aggregate ID
func ValidateAggregateID(id string) error {
	if id == "" {
		return fmt.Errorf("aggregate ID cannot be empty")
	}
	return nil
}

// RegisterCustomValidations registers custom validation functions
func RegisterCustomValidations() {
	validate.RegisterValidation("aggregate_id", func(fl validator.FieldLevel) bool {
		return ValidateAggregateID(fl.Field().String()) == nil
	})

	validate.RegisterValidation("currency_code", func(fl validator.FieldLevel) bool {
		return IsValidCurrency(fl.Field().String())
	})

	validate.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		return IsValidEventType(fl.Field().String())
	})
}
