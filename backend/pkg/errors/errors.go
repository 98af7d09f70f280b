package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeGraph represents transition graph corruption and invariant violations
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeStorage represents word graph storage errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeDiscord represents Discord-related errors
	ErrorTypeDiscord ErrorType = "discord"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Graph Errors

// ErrEmptyNode is returned when a node with zero total count is selected
// for traversal. It always indicates a corrupted graph.
type ErrEmptyNode struct {
	*BaseError
	EntityID string
	Word     string
}

func NewEmptyNode(entityID, word string) *ErrEmptyNode {
	return &ErrEmptyNode{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("node %q of entity %s has no outgoing transitions", word, entityID), nil),
		EntityID:  entityID,
		Word:      word,
	}
}

// ErrUnknownEntity is returned when an entity has no stored graph
type ErrUnknownEntity struct {
	*BaseError
	EntityID string
}

func NewUnknownEntity(entityID string) *ErrUnknownEntity {
	return &ErrUnknownEntity{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("no graph for entity: %s", entityID), nil),
		EntityID:  entityID,
	}
}

// ErrGenerationOverflow is returned when a walk does not reach the end
// sentinel within the step cap
type ErrGenerationOverflow struct {
	*BaseError
	EntityID string
	Steps    int
}

func NewGenerationOverflow(entityID string, steps int) *ErrGenerationOverflow {
	return &ErrGenerationOverflow{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("generation for entity %s exceeded %d steps", entityID, steps), nil),
		EntityID:  entityID,
		Steps:     steps,
	}
}

// ErrGraphCorrupt is returned when a graph breaks one of its structural invariants
type ErrGraphCorrupt struct {
	*BaseError
	EntityID string
	Reason   string
}

func NewGraphCorrupt(entityID, reason string) *ErrGraphCorrupt {
	return &ErrGraphCorrupt{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("graph for entity %s is corrupt: %s", entityID, reason), nil),
		EntityID:  entityID,
		Reason:    reason,
	}
}

// Storage Errors

// ErrStorageTimeout is returned when a storage call exceeds its deadline
type ErrStorageTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewStorageTimeout(operation string, timeout time.Duration, err error) *ErrStorageTimeout {
	return &ErrStorageTimeout{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("storage timeout: %s (timeout: %v)", operation, timeout), err),
		Operation: operation,
		Timeout:   timeout,
	}
}

// ErrStorageConflict is returned when another writer holds or changed the
// same entity
type ErrStorageConflict struct {
	*BaseError
	EntityID  string
	Operation string
}

func NewStorageConflict(entityID, operation string, err error) *ErrStorageConflict {
	return &ErrStorageConflict{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("conflicting write on entity %s during %s", entityID, operation), err),
		EntityID:  entityID,
		Operation: operation,
	}
}

// ErrStorageQueryFailed is returned when a storage call fails for a
// non-transient reason
type ErrStorageQueryFailed struct {
	*BaseError
	Operation string
}

func NewStorageQueryFailed(operation string, err error) *ErrStorageQueryFailed {
	return &ErrStorageQueryFailed{
		BaseError: NewBaseError(ErrorTypeStorage, fmt.Sprintf("storage query failed: %s", operation), err),
		Operation: operation,
	}
}

// Discord Errors

// ErrDiscordChannelNotFound is returned when a Discord channel cannot be found
type ErrDiscordChannelNotFound struct {
	*BaseError
	ChannelID string
}

func NewDiscordChannelNotFound(channelID string) *ErrDiscordChannelNotFound {
	return &ErrDiscordChannelNotFound{
		BaseError: NewBaseError(ErrorTypeDiscord, fmt.Sprintf("channel not found: %s", channelID), nil),
		ChannelID: channelID,
	}
}

// ErrDiscordMessageSendFailed is returned when sending a Discord message fails
type ErrDiscordMessageSendFailed struct {
	*BaseError
	ChannelID string
}

func NewDiscordMessageSendFailed(channelID string, err error) *ErrDiscordMessageSendFailed {
	return &ErrDiscordMessageSendFailed{
		BaseError: NewBaseError(ErrorTypeDiscord, "failed to send message", err),
		ChannelID: channelID,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error (or anything it wraps) is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if t, ok := typeOf(err); ok && t == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

func typeOf(err error) (ErrorType, bool) {
	switch e := err.(type) {
	case *BaseError:
		return e.Type, true
	case interface{ errorType() ErrorType }:
		return e.errorType(), true
	}
	return "", false
}

func (e *BaseError) errorType() ErrorType { return e.Type }

// IsRetryable reports whether the failed call may succeed if repeated.
// Only storage timeouts and conflicts qualify.
func IsRetryable(err error) bool {
	var timeout *ErrStorageTimeout
	if stderrors.As(err, &timeout) {
		return true
	}
	var conflict *ErrStorageConflict
	return stderrors.As(err, &conflict)
}

// IsCorruption reports whether err signals a broken graph invariant that
// needs manual inspection.
func IsCorruption(err error) bool {
	var empty *ErrEmptyNode
	var overflow *ErrGenerationOverflow
	var corrupt *ErrGraphCorrupt
	return stderrors.As(err, &empty) || stderrors.As(err, &overflow) || stderrors.As(err, &corrupt)
}

// IsUnknownEntity reports whether err means the entity has never been trained
func IsUnknownEntity(err error) bool {
	var unknown *ErrUnknownEntity
	return stderrors.As(err, &unknown)
}
