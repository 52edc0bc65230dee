package tool

import "fmt"

// MaxDocumentBytes bounds the content accepted by write_file.
const MaxDocumentBytes = 1 << 20

// RequireField returns an error if the string value is empty.
func RequireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("'%s' is required", name)
	}
	return nil
}

// RequireFields validates name/value pairs of required string fields.
func RequireFields(kvs ...string) error {
	if len(kvs)%2 != 0 {
		return fmt.Errorf("RequireFields: odd number of arguments")
	}
	for i := 0; i < len(kvs); i += 2 {
		if err := RequireField(kvs[i], kvs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMaxLength checks that value does not exceed max bytes.
func ValidateMaxLength(name, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", name, max)
	}
	return nil
}

// ValidateAll returns the first non-nil error.
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
