package models

import "errors"

// Ошибки обработки сообщений. Все они гасятся на границе пайплайна.
var (
	ErrMalformedTopic     = errors.New("malformed topic")
	ErrUnknownTopicType   = errors.New("unknown topic type")
	ErrSchemaNotFound     = errors.New("schema not found")
	ErrSchemaValidation   = errors.New("schema validation failed")
	ErrExpression         = errors.New("expression evaluation failed")
	ErrFragmentDecode     = errors.New("fragment payload not decodable")
	ErrInvalidPayload     = errors.New("payload is not a JSON object")
	ErrQueueFull          = errors.New("processing queue full")
	ErrPipelineStopped    = errors.New("pipeline stopped")
	ErrInvalidRule        = errors.New("invalid translation rule")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
