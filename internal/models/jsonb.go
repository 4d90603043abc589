package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a JSONB encoded list of strings.
type StringList []string

// Value marshals the list into JSON for storage.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the list.
func (l *StringList) Scan(value interface{}) error {
	return scanJSON(value, l, func() { *l = StringList{} })
}

// Contains reports whether v is in the list.
func (l StringList) Contains(v string) bool {
	for _, item := range l {
		if item == v {
			return true
		}
	}
	return false
}

func scanJSON(value interface{}, dest interface{}, reset func()) error {
	if value == nil {
		reset()
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %T", value, dest)
	}
	if len(data) == 0 {
		reset()
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %T: %w", dest, err)
	}
	return nil
}
