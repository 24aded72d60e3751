package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAgent is returned when a command is issued while no local agent is registered.
	ErrNoAgent = errors.New("no local agent connected")

	// ErrCommandTimeout is returned when the agent does not answer within the deadline.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrSessionClosed is returned when the peer session goes away while a command is pending.
	ErrSessionClosed = errors.New("session closed")
)

// AgentError carries the error payload of a response with ok=false.
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent returned error: %s", e.Message)
}
