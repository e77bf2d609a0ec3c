package secret

import (
	"errors"
	"fmt"
)

// Build, conversion and merge failures. Each one is scoped: a build or
// conversion error drops a single vault entry, a merge error drops a single
// target secret. None of them should stop a sync cycle.
var (
	ErrMissingTargetName       = errors.New("vault entry has no target secret name")
	ErrAmbiguousSecretShape    = errors.New("content type and target key cannot both be empty")
	ErrUnsupportedContentType  = errors.New("unsupported content type")
	ErrMalformedContent        = errors.New("malformed secret content")
	ErrUnknownConversion       = errors.New("unknown conversion")
	ErrMissingConversionFields = errors.New("fields missing for conversion")
	ErrConvertFileNotFound     = errors.New("convert file does not exist")
	ErrTemplateRender          = errors.New("template render failed")
	ErrIncompatibleMerge       = errors.New("incompatible merge")
)

// EntryError ties a build failure to the vault entry that caused it.
type EntryError struct {
	Entry string
	Vault string
	Err   error
}

func (e *EntryError) Error() string {
	if e.Vault != "" {
		return fmt.Sprintf("vault entry %s (%s): %v", e.Entry, e.Vault, e.Err)
	}
	return fmt.Sprintf("vault entry %s: %v", e.Entry, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// MergeError reports why a vault entry could not be folded into a target secret.
type MergeError struct {
	Target string
	Source string
	Field  string
	Detail string
}

func (e *MergeError) Error() string {
	msg := fmt.Sprintf("cannot merge %s into secret %s: conflicting %s", e.Source, e.Target, e.Field)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *MergeError) Unwrap() error {
	return ErrIncompatibleMerge
}
