package models

import "errors"

// Failure kinds shared by the engine, its collaborators and the registrar.
// Callers wrap them with fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	ErrAlreadyExists = errors.New("device already exists")
	ErrNotFound      = errors.New("device not found")
	ErrGeneration    = errors.New("image generation failed")
	ErrPersistence   = errors.New("image persistence failed")
	ErrPublish       = errors.New("publish failed")
	ErrConnection    = errors.New("broker connection failed")
	ErrEngineStopped = errors.New("engine stopped")
)
