package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultCredentialsFile is the credentials file read from the working directory.
const DefaultCredentialsFile = "aws_credentials.json"

// ec2URLKey is written back into the credentials file after the first deployment
const ec2URLKey = "aws_ec2_url"

// ErrCredentialsFileNotFound is returned when the credentials file is absent.
var ErrCredentialsFileNotFound = errors.New("file does not exist")

// Credentials holds the account, region and key pair used for every AWS call.
type Credentials struct {
	AccountID       string `json:"aws_account_id" validate:"required"`
	Region          string `json:"aws_region" validate:"required"`
	AccessKeyID     string `json:"aws_access_key_id" validate:"required"`
	SecretAccessKey string `json:"aws_secret_access_key" validate:"required"`
	EC2URL          string `json:"aws_ec2_url,omitempty"`

	// Extra keeps every key this tool does not know about.
	Extra map[string]json.RawMessage `json:"-"`
}

// MissingFieldError reports a required credentials field that is absent or empty.
type MissingFieldError struct {
	Field string
	File  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%q cannot be found in %s", e.Field, e.File)
}

var credentialsValidator = newJSONValidator()

// newJSONValidator reports struct fields by their json name
func newJSONValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ReadCredentials loads and validates the credentials file.
// No record is returned when the file is missing or incomplete.
func ReadCredentials(filename string) (*Credentials, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", filename, ErrCredentialsFileNotFound)
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var document map[string]json.RawMessage
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", filename, err)
	}

	var credentials Credentials
	if err := json.Unmarshal(data, &credentials); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", filename, err)
	}

	if err := credentialsValidator.Struct(&credentials); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			return nil, &MissingFieldError{Field: validationErrors[0].Field(), File: filename}
		}
		return nil, fmt.Errorf("failed to validate credentials file: %w", err)
	}

	credentials.Extra = make(map[string]json.RawMessage)
	known := knownCredentialKeys()
	for key, value := range document {
		if _, ok := known[key]; !ok {
			credentials.Extra[key] = value
		}
	}
	return &credentials, nil
}

// UpdateCredentials reads the whole document, applies mutate and atomically
// replaces the file. Unknown keys survive the round trip.
func UpdateCredentials(filename string, mutate func(document map[string]json.RawMessage) error) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", filename, ErrCredentialsFileNotFound)
		}
		return fmt.Errorf("failed to read credentials file: %w", err)
	}

	document := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &document); err != nil {
		return fmt.Errorf("failed to parse credentials file %s: %w", filename, err)
	}
	if err := mutate(document); err != nil {
		return err
	}

	out, err := json.MarshalIndent(document, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials file: %w", err)
	}
	return writeFileAtomic(filename, append(out, '\n'))
}

// SaveEC2URL records the public address of the container instance.
func SaveEC2URL(filename, url string) error {
	return UpdateCredentials(filename, func(document map[string]json.RawMessage) error {
		value, err := json.Marshal(url)
		if err != nil {
			return err
		}
		document[ec2URLKey] = value
		return nil
	})
}

func knownCredentialKeys() map[string]struct{} {
	keys := make(map[string]struct{})
	t := reflect.TypeOf(Credentials{})
	for i := 0; i < t.NumField(); i++ {
		name := strings.SplitN(t.Field(i).Tag.Get("json"), ",", 2)[0]
		if name != "" && name != "-" {
			keys[name] = struct{}{}
		}
	}
	return keys
}
