package model

import (
	"fmt"
	"strings"
	"time"
)

// EventKind — тип события журнала аудита.
type EventKind string

const (
	// EventFileRegistered — файл зарегистрирован (actor = владелец)
	EventFileRegistered EventKind = "FileRegistered"
	// EventAccessRequested — подан запрос доступа (actor = запросивший)
	EventAccessRequested EventKind = "AccessRequested"
	// EventAccessGranted — выдан доступ (actor = получатель)
	EventAccessGranted EventKind = "AccessGranted"
	// EventAccessRevoked — доступ отозван (actor = субъект, у которого отозван)
	EventAccessRevoked EventKind = "AccessRevoked"
)

// ParseEventKind разбирает тип события (регистр не учитывается).
func ParseEventKind(s string) (EventKind, error) {
	for _, k := range []EventKind{EventFileRegistered, EventAccessRequested, EventAccessGranted, EventAccessRevoked} {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("недопустимый тип события %q", s)
}

// Event — запись журнала аудита. Только добавляется, никогда не изменяется.
type Event struct {
	// Sequence — глобальный монотонный номер (с единицы)
	Sequence uint64
	Kind     EventKind
	CID      string
	Actor    Identity
	// Timestamp — время операции, породившей событие
	Timestamp time.Time
	// TxID — идентификатор мутации; общие для всех событий одной операции
	TxID string
}
