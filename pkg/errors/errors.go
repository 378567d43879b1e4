// Package errors defines the machine-readable error codes shared by the
// storage, reasoning and service layers.
package errors

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStorageIO                Code = "storage.io.failure"
	CodeStorageSchemaInit        Code = "storage.schema.init_failure"
	CodeStorageDuplicateID       Code = "storage.entity.duplicate_id"
	CodeStorageDimensionMismatch Code = "storage.embedding.dimension_mismatch"
	CodeStorageInvalidEmbedding  Code = "storage.embedding.invalid"
	CodeStorageSerialization     Code = "storage.metadata.serialization_failure"
	CodeStorageInvalidMetadata   Code = "storage.metadata.invalid"

	CodeReasoningEngineInit          Code = "reasoning.engine.init_failure"
	CodeReasoningNoSolution          Code = "reasoning.query.no_solution"
	CodeReasoningTypeMismatch        Code = "reasoning.query.type_mismatch"
	CodeReasoningEvaluationException Code = "reasoning.eval.exception"

	CodeKnowledgeObservationsEmpty Code = "knowledge.observations.empty"
	CodeKnowledgeEvidenceNotFound  Code = "knowledge.evidence.not_found"

	CodeEmbeddingProviderFailure Code = "embedding.provider.failure"
	CodeEmbeddingConfigInvalid   Code = "embedding.config.invalid"

	CodeConfigLoadReadFailure      Code = "config.load.read_failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldID(value string) Attr {
	return Field("id", value)
}

func FieldPath(value string) Attr {
	return Field("path", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the innermost code attached to err, or "" if none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case nil:
		return ""
	case Code:
		return code
	case string:
		return Code(code)
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsStorage reports whether err carries one of the storage codes.
func IsStorage(err error) bool {
	return domain(CodeOf(err)) == "storage"
}

// IsReasoning reports whether err carries one of the reasoning codes.
func IsReasoning(err error) bool {
	return domain(CodeOf(err)) == "reasoning"
}

func domain(code Code) string {
	if code == "" {
		return ""
	}
	head, _, _ := strings.Cut(string(code), ".")
	return head
}

func flatten(fields []Attr) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}
