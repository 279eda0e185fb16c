package model

import "time"

// TimedGrant — временный доступ субъекта к файлу.
// Для пары (CID, Grantee) хранится не более одного гранта;
// повторная выдача перезаписывает срок.
type TimedGrant struct {
	CID       string
	Grantee   Identity
	ExpiresAt time.Time
}

// ActiveAt сообщает, действует ли грант в момент now (now < ExpiresAt).
// Истёкшие гранты не удаляются, а просто считаются неактивными.
func (g *TimedGrant) ActiveAt(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// AccessRequest — запрос постороннего субъекта на доступ к файлу
// с режимом SHARE_ON_REQUEST. Решается владельцем ровно один раз.
type AccessRequest struct {
	// Index — стабильный глобальный номер запроса (с нуля)
	Index int64
	// CID — файл, к которому запрошен доступ
	CID string
	// Owner — владелец файла на момент подачи запроса
	Owner Identity
	// Requester — субъект, запросивший доступ
	Requester Identity
	// Approved — итог решения; имеет смысл только при Decided
	Approved bool
	// Decided — запрос рассмотрен; после этого запись неизменна
	Decided bool
	// RequestedAt — время подачи запроса
	RequestedAt time.Time
	// DecidedAt — время решения (nil для нерассмотренных)
	DecidedAt *time.Time
}

// Clone возвращает копию запроса.
func (r *AccessRequest) Clone() *AccessRequest {
	c := *r
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}
