package utils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

var CountryCode = "SN"

func IsValidEmail(email string) bool {
	// Basic email validation regex pattern
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

// NormalizePhone canonicalizes a phone number for agent identity:
// leading "00" becomes "+", and a missing "+" prefix is added.
// The normalized value is the unique agent key within a master.
func NormalizePhone(phoneNumber string) string {
	normalized := strings.TrimSpace(phoneNumber)
	if strings.HasPrefix(normalized, "00") {
		normalized = "+" + normalized[2:]
	}
	if !strings.HasPrefix(normalized, "+") {
		normalized = "+" + normalized
	}
	return normalized
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err // Phone number is invalid
	}

	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}

	return nil // Phone number is valid for the specified country code
}

// GenerateApiKey returns a new master API key: prefix + 32 random bytes hex.
func GenerateApiKey(prefix string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(buf), nil
}

func ProcessValidationErrors(err error) map[string]string {

	validationErrors := err.(validator.ValidationErrors)

	errorResponse := make(map[string]string)

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func ConvertToLocalTime(utcTime time.Time, timezone string) time.Time {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return utcTime
	}
	return utcTime.In(location)
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	// Remove any whitespace and check for empty strings
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}

	// Convert string to decimal
	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}

	return dec, nil
}

// ParseDateString parses "2006-01-02T15:04:05" or "2006-01-02" in the given
// timezone and converts to UTC.
func ParseDateString(dateString string, timezone string) (time.Time, error) {
	dateString = strings.TrimSpace(dateString)

	localTime, err := time.Parse("2006-01-02T15:04:05", dateString)
	if err != nil {
		localTime, err = time.Parse("2006-01-02", dateString)
		if err != nil {
			return time.Time{}, err
		}
	}

	if timezone == "" {
		timezone = "Africa/Dakar"
	}

	location, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}

	localTimeInZone := time.Date(
		localTime.Year(), localTime.Month(), localTime.Day(),
		localTime.Hour(), localTime.Minute(), localTime.Second(), localTime.Nanosecond(),
		location,
	)

	return localTimeInZone.UTC(), nil
}
