package optional

import (
	"database/sql"
	"time"
)

func FromNullInt64(v sql.NullInt64) Optional[int64] {
	if !v.Valid {
		return Optional[int64]{}
	}
	return New(v.Int64)
}

func FromNullTime(v sql.NullTime) Optional[time.Time] {
	if !v.Valid {
		return Optional[time.Time]{}
	}
	return New(v.Time)
}

func ToNullInt64(o Optional[int64]) sql.NullInt64 {
	if o.IsEmpty() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: o.MustValue(), Valid: true}
}

func ToNullTime(o Optional[time.Time]) sql.NullTime {
	if o.IsEmpty() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: o.MustValue(), Valid: true}
}
