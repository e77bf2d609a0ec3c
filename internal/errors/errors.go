package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// SourceError enhances vault source errors with context
func SourceError(source string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s source error during %s", source, operation),
		Suggestion: getSourceSuggestion(source, err),
		Err:        err,
	}
}

// getSourceSuggestion returns helpful suggestions based on source type and error
func getSourceSuggestion(source string, err error) string {
	errStr := err.Error()
	lower := strings.ToLower(errStr)

	switch source {
	case "azure", "azure.keyvault":
		if strings.Contains(lower, "forbidden") || strings.Contains(lower, "403") {
			return "Grant the identity 'Get' and 'List' secret permissions on the Key Vault"
		}
		if strings.Contains(lower, "unauthorized") || strings.Contains(lower, "401") {
			return "Check authentication: verify managed identity, service principal, or Azure CLI login"
		}
		if strings.Contains(lower, "no such host") {
			return "Check the vault URL format: https://<vault-name>.vault.azure.net/"
		}

	case "aws", "aws.secretsmanager":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:ListSecrets and secretsmanager:GetSecretValue"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. The next sync cycle will try again"
		}

	case "gcp", "gcp.secretmanager":
		if strings.Contains(errStr, "PermissionDenied") {
			return "Grant roles/secretmanager.viewer and roles/secretmanager.secretAccessor to the service account"
		}
		if strings.Contains(errStr, "Unauthenticated") || strings.Contains(lower, "could not find default credentials") {
			return "Run 'gcloud auth application-default login' or set GOOGLE_APPLICATION_CREDENTIALS"
		}
	}

	// Generic suggestions
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		return "The operation timed out. Check your network connection; the next sync cycle will try again"
	}
	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") {
		return "Unable to connect. Check your network and source configuration"
	}

	return ""
}

// ClusterError enhances Kubernetes API errors with context
func ClusterError(operation string, err error) error {
	lower := strings.ToLower(err.Error())

	var suggestion string
	switch {
	case strings.Contains(lower, "forbidden"):
		suggestion = "Grant the service account get, create and patch on secrets, and list on namespaces"
	case strings.Contains(lower, "unauthorized"):
		suggestion = "Check the kubeconfig credentials or the in-cluster service account token"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		suggestion = "Unable to reach the Kubernetes API server. Check KUBECONFIG or the in-cluster environment"
	}

	return UserError{
		Message:    fmt.Sprintf("Kubernetes error during %s", operation),
		Suggestion: suggestion,
		Err:        err,
	}
}

// IsRetryable checks if an error, or any error it wraps, is retryable
func IsRetryable(err error) bool {
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for ; err != nil; err = errors.Unwrap(err) {
		errStr := strings.ToLower(err.Error())
		for _, pattern := range retryablePatterns {
			if strings.Contains(errStr, pattern) {
				return true
			}
		}
	}

	return false
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	// Already a user-friendly error
	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	// Simplify common technical errors
	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	// Return original error if we can't simplify it
	return err
}
