// errors.go — типизированные ошибки ядра реестра.
// Все ошибки — ожидаемые исходы операции: ни одна не ретраится внутри
// и ни одна не оставляет частично применённого состояния.
package service

import "errors"

var (
	// ErrDuplicateCID — CID уже зарегистрирован.
	ErrDuplicateCID = errors.New("CID уже зарегистрирован")
	// ErrNotFound — файл или запрос не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrUnauthorized — вызывающий не является владельцем файла.
	ErrUnauthorized = errors.New("операция разрешена только владельцу файла")
	// ErrInvalidDuration — недопустимая длительность гранта.
	ErrInvalidDuration = errors.New("недопустимая длительность доступа")
	// ErrSelfGrant — владелец не может выдать или отозвать доступ у себя.
	ErrSelfGrant = errors.New("нельзя выдать доступ владельцу файла")
	// ErrNotShareOnRequest — файл не принимает запросы доступа.
	ErrNotShareOnRequest = errors.New("файл не принимает запросы доступа")
	// ErrSelfRequest — владелец не может запросить доступ к своему файлу.
	ErrSelfRequest = errors.New("владелец не может запросить доступ к своему файлу")
	// ErrDuplicateRequest — нерассмотренный запрос для пары уже существует.
	ErrDuplicateRequest = errors.New("нерассмотренный запрос доступа уже существует")
	// ErrAlreadyDecided — запрос уже рассмотрен.
	ErrAlreadyDecided = errors.New("запрос доступа уже рассмотрен")
	// ErrInvalidIdentity — пустой или некорректный идентификатор субъекта.
	ErrInvalidIdentity = errors.New("некорректный идентификатор субъекта")
	// ErrInvalidCID — пустой или некорректный CID.
	ErrInvalidCID = errors.New("некорректный CID")
	// ErrInvalidVisibility — неизвестный режим видимости.
	ErrInvalidVisibility = errors.New("некорректный режим видимости")
)

// errorCodes — машинные коды ошибок в порядке проверки.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrDuplicateCID, "DUPLICATE_CID"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrInvalidDuration, "INVALID_DURATION"},
	{ErrSelfGrant, "SELF_GRANT"},
	{ErrNotShareOnRequest, "NOT_SHARE_ON_REQUEST"},
	{ErrSelfRequest, "SELF_REQUEST"},
	{ErrDuplicateRequest, "DUPLICATE_REQUEST"},
	{ErrAlreadyDecided, "ALREADY_DECIDED"},
	{ErrInvalidIdentity, "INVALID_IDENTITY"},
	{ErrInvalidCID, "INVALID_CID"},
	{ErrInvalidVisibility, "INVALID_VISIBILITY"},
}

// ErrorCode возвращает машинный код ошибки ядра.
// Для nil — пустая строка, для неизвестных ошибок — "INTERNAL_ERROR".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL_ERROR"
}
