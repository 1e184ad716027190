package domain

import "errors"

var (
	ErrInvalidSignal     = errors.New("invalid signal")
	ErrValidationTimeout = errors.New("validation timeout")
	ErrRiskRejected      = errors.New("risk rejected")
	ErrBrokerRejected    = errors.New("broker rejected")
	ErrConnectionLost    = errors.New("connection lost")
	ErrPositionSync      = errors.New("position sync failure")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrQueueFull         = errors.New("execution queue full")
	ErrTradingHalted     = errors.New("trading halted")
	ErrMarketClosed      = errors.New("market closed")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
)
