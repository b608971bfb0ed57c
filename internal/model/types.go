package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap 用于 JSON 对象字段，nil 存为 NULL
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	bytes, err := scanBytes(value)
	if err != nil || bytes == nil {
		*m = nil
		return err
	}
	return json.Unmarshal(bytes, m)
}

// BoolMap 人工覆盖表 key -> bool
type BoolMap map[string]bool

func (m BoolMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *BoolMap) Scan(value interface{}) error {
	bytes, err := scanBytes(value)
	if err != nil || bytes == nil {
		*m = nil
		return err
	}
	return json.Unmarshal(bytes, m)
}

// MySQL 返回 []byte，SQLite 可能返回 string
func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported json column type %T", value)
	}
}
