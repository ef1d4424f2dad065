package errutil

import "net/http"

// CoreStatus is the transport-agnostic status code carried by every BaseError.
type CoreStatus string

const (
	StatusBadRequest          CoreStatus = "BAD_REQUEST"
	StatusValidationFailed    CoreStatus = "VALIDATION_FAILED"
	StatusNotFound            CoreStatus = "NOT_FOUND"
	StatusConflict            CoreStatus = "CONFLICT"
	StatusUnprocessableEntity CoreStatus = "UNPROCESSABLE_ENTITY"
	StatusInsufficientBalance CoreStatus = "INSUFFICIENT_BALANCE"
	StatusInvalidTransition   CoreStatus = "INVALID_TRANSITION"
	StatusUnsupportedGateway  CoreStatus = "UNSUPPORTED_GATEWAY"
	StatusGatewayConfig       CoreStatus = "GATEWAY_CONFIG_ERROR"
	StatusExternalProvider    CoreStatus = "EXTERNAL_PROVIDER_ERROR"
	StatusTimeout             CoreStatus = "TIMEOUT"
	StatusInternal            CoreStatus = "INTERNAL"
	StatusUnknown             CoreStatus = "UNKNOWN"
)

// HTTPStatus converts the CoreStatus to its closest HTTP status code equivalent.
func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusNotFound:
		return http.StatusNotFound
	case StatusConflict, StatusInvalidTransition:
		return http.StatusConflict
	case StatusUnprocessableEntity, StatusInsufficientBalance:
		return http.StatusUnprocessableEntity
	case StatusUnsupportedGateway, StatusGatewayConfig:
		return http.StatusBadRequest
	case StatusExternalProvider:
		return http.StatusBadGateway
	case StatusTimeout:
		return http.StatusGatewayTimeout
	case StatusInternal, StatusUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
