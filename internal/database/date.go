package database

import (
	"bytes"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

const dateLayout = "2006-01-02"

// Date 是以 YYYY-MM-DD 序列化的日期列。
type Date struct {
	datatypes.Date
}

// NewDate 截取 t 的日期部分。
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{datatypes.Date(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))}
}

// ParseDate 解析 YYYY-MM-DD。
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return NewDate(t), nil
}

// Time 返回底层 time.Time。
func (d Date) Time() time.Time { return time.Time(d.Date) }

// IsZero 报告日期是否未设置。
func (d Date) IsZero() bool { return d.Time().IsZero() }

// Before 比较两个日期。
func (d Date) Before(other Date) bool { return d.Time().Before(other.Time()) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Time().Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		*d = Date{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("date must be a YYYY-MM-DD string")
	}
	parsed, err := ParseDate(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// normalizeDate 将零值日期指针折叠为 nil，便于存储 NULL。
func normalizeDate(d **Date) {
	if *d != nil && (*d).IsZero() {
		*d = nil
	}
}
