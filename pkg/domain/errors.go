package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrThrottled    = errors.New("previous send too recent")
	ErrEmptyPrompt  = errors.New("empty prompt")
	ErrTurnInFlight = errors.New("turn already in flight")
	ErrCancelled    = errors.New("turn cancelled")
)

type UpstreamErrorClass string

const (
	UpstreamConnectivity UpstreamErrorClass = "connectivity"
	UpstreamRateLimit    UpstreamErrorClass = "rate_limit"
	UpstreamGeneric      UpstreamErrorClass = "generic"
)

// UpstreamError is a completion-service failure with an HTTP-style status.
type UpstreamError struct {
	StatusCode int
	Class      UpstreamErrorClass
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream call failed (%s, status %d): %s", e.Class, e.StatusCode, e.Message)
}

// UserMessage is the synthetic assistant text shown for this failure class.
// Raw upstream errors are never surfaced to the user.
func (e *UpstreamError) UserMessage() string {
	switch e.Class {
	case UpstreamConnectivity:
		return "ขออภัย ไม่สามารถเชื่อมต่อกับบริการได้ในขณะนี้ กรุณาลองใหม่อีกครั้ง"
	case UpstreamRateLimit:
		return "มีการใช้งานหนาแน่น กรุณารอสักครู่แล้วลองใหม่อีกครั้ง"
	default:
		return "ขออภัย เกิดข้อผิดพลาดในการสร้างคำตอบ กรุณาลองใหม่อีกครั้ง"
	}
}

func ClassifyUpstreamStatus(statusCode int) UpstreamErrorClass {
	switch {
	case statusCode == 429:
		return UpstreamRateLimit
	case statusCode == 0 || (statusCode >= 502 && statusCode <= 504):
		return UpstreamConnectivity
	default:
		return UpstreamGeneric
	}
}
