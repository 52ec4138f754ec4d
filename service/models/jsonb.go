package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// Generic JSON column type
type JSONB map[string]interface{}

// Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion failed: not []byte or string")
	}
	return json.Unmarshal(bytes, j)
}

// Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}
