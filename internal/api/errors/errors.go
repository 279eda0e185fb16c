// Пакет errors — единый формат ошибок HTTP API реестра:
// {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/service"
)

// Коды ошибок транспортного уровня. Коды ядра берутся из service.ErrorCode.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeInternalError   = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationError — 400 некорректные входные данные запроса.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// Unauthenticated — 401 не удалось определить вызывающего.
func Unauthenticated(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthenticated, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// statusByCode — HTTP-статусы для кодов ошибок ядра.
var statusByCode = map[string]int{
	"DUPLICATE_CID":        http.StatusConflict,
	"DUPLICATE_REQUEST":    http.StatusConflict,
	"ALREADY_DECIDED":      http.StatusConflict,
	"NOT_FOUND":            http.StatusNotFound,
	"UNAUTHORIZED":         http.StatusForbidden,
	"INVALID_DURATION":     http.StatusBadRequest,
	"SELF_GRANT":           http.StatusBadRequest,
	"NOT_SHARE_ON_REQUEST": http.StatusBadRequest,
	"SELF_REQUEST":         http.StatusBadRequest,
	"INVALID_IDENTITY":     http.StatusBadRequest,
	"INVALID_CID":          http.StatusBadRequest,
	"INVALID_VISIBILITY":   http.StatusBadRequest,
}

// StatusFor возвращает HTTP-статус и машинный код для ошибки ядра.
// Неизвестные ошибки — 500 INTERNAL_ERROR.
func StatusFor(err error) (int, string) {
	code := service.ErrorCode(err)
	if status, ok := statusByCode[code]; ok {
		return status, code
	}
	return http.StatusInternalServerError, CodeInternalError
}

// FromService записывает ответ для ошибки ядра. Текст внутренних
// ошибок наружу не отдаётся.
func FromService(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		InternalError(w, "Внутренняя ошибка сервера")
		return
	}
	WriteError(w, status, code, err.Error())
}
