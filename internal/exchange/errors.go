package exchange

import (
	"errors"
	"fmt"
	"strings"

	"tradecore/pkg/retry"
)

// ============================================================
// Ошибки HTTP и WebSocket клиентов
// ============================================================

var (
	// ErrCanceled - отмена контекста; оборачивает context.Canceled
	ErrCanceled = retry.ErrCanceled

	// ErrMissingCredentials - подписанный запрос без ключа или секрета
	ErrMissingCredentials = errors.New("missing api credentials")

	// ErrClosed - клиент WebSocket закрыт и не может быть использован
	ErrClosed = errors.New("websocket client closed")

	// ErrSendTimeout - соединение не стало активным за reconnect timeout
	ErrSendTimeout = errors.New("timed out waiting for active connection")
)

// NetworkError - сбой транспорта (DNS, TLS, разрыв соединения)
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error in %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError - запрос не уложился в таймаут транспорта
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout in %s: %v", e.Op, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// Is позволяет проверять таймауты через errors.Is(err, retry.ErrTimeout)
func (e *TimeoutError) Is(target error) bool { return target == retry.ErrTimeout }

// UnexpectedStatusError - HTTP 4xx/5xx без тела ошибки площадки
type UnexpectedStatusError struct {
	Status int
	Body   string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// VenueError - разобранная JSON-ошибка площадки
type VenueError struct {
	Status  int
	Name    string
	Message string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue error %s (status %d): %s", e.Name, e.Status, e.Message)
}

// ValidationError - некорректный параметр на стороне клиента
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ============================================================
// Классификатор повторов
// ============================================================

// rateLimitKinds - имена ошибок площадки, означающие превышение лимита
var rateLimitKinds = map[string]bool{
	"RateLimitError":    true,
	"RateLimitExceeded": true,
	"TooManyRequests":   true,
}

// genericKinds - общие имена, по которым нельзя судить о причине
var genericKinds = map[string]bool{
	"HTTPError":   true,
	"Error":       true,
	"ServerError": true,
}

// permanentMarkers - признаки ошибок валидации, авторизации и баланса
var permanentMarkers = []string{
	"invalid",
	"validation",
	"insufficient",
	"signature",
	"api key",
	"api-key",
	"unauthorized",
	"forbidden",
	"permission",
	"parameter",
	"malformed",
	"missing",
}

func isPermanentMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ShouldRetry решает, повторять ли запрос.
//
// Повторяются сбои транспорта и таймауты, HTTP статусы >= 500 и 429,
// ошибки площадки с именем превышения лимита, а также общие ошибки
// с "rate limit" в сообщении. Ошибки валидации, авторизации, баланса
// и параметров не повторяются никогда.
func ShouldRetry(err error) bool {
	if err == nil || retry.IsCanceled(err) {
		return false
	}
	if errors.Is(err, ErrMissingCredentials) {
		return false
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}

	var venue *VenueError
	if errors.As(err, &venue) {
		if rateLimitKinds[venue.Name] {
			return true
		}
		if genericKinds[venue.Name] && strings.Contains(strings.ToLower(venue.Message), "rate limit") {
			return true
		}
		if isPermanentMessage(venue.Message) {
			return false
		}
		return venue.Status >= 500 || venue.Status == 429
	}

	var status *UnexpectedStatusError
	if errors.As(err, &status) {
		return status.Status >= 500 || status.Status == 429
	}

	var network *NetworkError
	if errors.As(err, &network) {
		return true
	}
	return errors.Is(err, retry.ErrTimeout)
}
