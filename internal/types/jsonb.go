package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure Metadata implements both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
var (
	_ sql.Scanner   = (*Metadata)(nil)
	_ driver.Valuer = Metadata(nil)
)

// Metadata is the provider's flat string key/value metadata map, persisted as
// JSONB. The provider's metadata transport has no nested-object support, so a
// flat map is the full fidelity representation.
type Metadata map[string]string

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, m)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
