package jsonval

import (
	"database/sql/driver"
	"strconv"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSON 是结构化值的列类型，编码与 datatypes.JSON 相同。
// MySQL 上建为 JSON 列；SQLite 上建为 TEXT，使 42、true 这类标量按文本原样保存。
type JSON datatypes.JSON

func (JSON) GormDataType() string { return "json" }

func (JSON) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "sqlite":
		return "TEXT"
	case "postgres":
		return "JSONB"
	}
	return "JSON"
}

func (j JSON) Value() (driver.Value, error) { return datatypes.JSON(j).Value() }

// Scan 除文本外也接受驱动按数值亲和性返回的标量。
func (j *JSON) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case int64:
		*j = JSON(strconv.FormatInt(v, 10))
	case float64:
		*j = JSON(strconv.FormatFloat(v, 'g', -1, 64))
	case bool:
		*j = JSON(strconv.FormatBool(v))
	default:
		var raw datatypes.JSON
		if err := raw.Scan(value); err != nil {
			return err
		}
		*j = JSON(raw)
	}
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) { return datatypes.JSON(j).MarshalJSON() }

func (j *JSON) UnmarshalJSON(b []byte) error { return (*datatypes.JSON)(j).UnmarshalJSON(b) }

func (j JSON) String() string { return string(j) }
