// Пакет model — доменные типы реестра CID: файлы, временные гранты,
// запросы доступа и события аудита.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Identity — непрозрачный идентификатор субъекта (публичный ключ, адрес
// кошелька, имя учётной записи). Сравнивается только на равенство.
type Identity string

// Valid сообщает, является ли идентификатор допустимым:
// непустой и без пробельных символов по краям.
func (id Identity) Valid() bool {
	s := string(id)
	return s != "" && strings.TrimSpace(s) == s
}

// String возвращает строковое представление идентификатора.
func (id Identity) String() string {
	return string(id)
}

// Visibility — режим видимости файла. Закрытый набор значений.
type Visibility string

const (
	// VisibilityPrivate — доступ только владельцу и явно допущенным субъектам.
	VisibilityPrivate Visibility = "PRIVATE"
	// VisibilityPublic — доступ любому субъекту.
	VisibilityPublic Visibility = "PUBLIC"
	// VisibilityShareOnRequest — как PRIVATE, но посторонние могут запросить доступ.
	VisibilityShareOnRequest Visibility = "SHARE_ON_REQUEST"
)

// visibilityOrdinals — числовые коды режимов в порядке исходного перечисления
// (0 = PRIVATE, 1 = PUBLIC, 2 = SHARE_ON_REQUEST).
var visibilityOrdinals = []Visibility{
	VisibilityPrivate,
	VisibilityPublic,
	VisibilityShareOnRequest,
}

// ParseVisibility разбирает режим видимости из строки.
// Принимает имя режима в любом регистре или его числовой код ("0", "1", "2").
func ParseVisibility(s string) (Visibility, error) {
	s = strings.TrimSpace(s)
	for i, v := range visibilityOrdinals {
		if strings.EqualFold(s, string(v)) || s == fmt.Sprint(i) {
			return v, nil
		}
	}
	return "", fmt.Errorf("недопустимый режим видимости %q, допустимые: PRIVATE, PUBLIC, SHARE_ON_REQUEST", s)
}

// Valid сообщает, входит ли значение в закрытый набор режимов.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityPublic, VisibilityShareOnRequest:
		return true
	}
	return false
}

// FileRecord — запись о зарегистрированном CID.
// После создания меняется только SharedWith (через путь отзыва доступа).
type FileRecord struct {
	// CID — идентификатор содержимого, глобально уникальный ключ
	CID string
	// Owner — владелец, зарегистрировавший файл
	Owner Identity
	// Visibility — режим видимости, фиксируется при регистрации
	Visibility Visibility
	// SharedWith — статический список доступа (без владельца, без дублей)
	SharedWith []Identity
	// CreatedAt — время регистрации
	CreatedAt time.Time
	// Ordinal — порядковый номер регистрации, задаёт порядок выдачи списков
	Ordinal int64
}

// IsSharedWith сообщает, входит ли id в статический список доступа.
func (f *FileRecord) IsSharedWith(id Identity) bool {
	for _, s := range f.SharedWith {
		if s == id {
			return true
		}
	}
	return false
}

// Clone возвращает глубокую копию записи.
func (f *FileRecord) Clone() *FileRecord {
	c := *f
	c.SharedWith = append([]Identity(nil), f.SharedWith...)
	return &c
}
