package schema

import (
	"strconv"
	"strings"
	"time"
)

const (
	secondsPerDay  = 24 * 60 * 60
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05"
)

// TextTemplate renders varchar codes as prefix + zero-padded code + suffix.
type TextTemplate struct {
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`
	// Width pads the numeric part; zero derives it from the column's average length.
	Width int `yaml:"width"`
}

// SetTextMapper installs a caller-supplied code-to-string mapping that takes
// precedence over the template.
func (c *Column) SetTextMapper(fn func(int64) string) {
	c.mapper = fn
}

// Format renders one generated value. Nulls render as nullLiteral.
func (c *Column) Format(v int64, nullLiteral string) string {
	if v == NullValue {
		return nullLiteral
	}
	switch c.Domain.Encoding {
	case TypeDecimal:
		return formatScaled(v, c.Domain.Scale)
	case TypeDate:
		return time.Unix(v*secondsPerDay, 0).UTC().Format(dateLayout)
	case TypeDatetime:
		return time.Unix(v, 0).UTC().Format(datetimeLayout)
	case TypeVarchar:
		if c.mapper != nil {
			return c.mapper(v)
		}
		return c.formatText(v)
	default:
		return strconv.FormatInt(v, 10)
	}
}

func (c *Column) formatText(v int64) string {
	num := strconv.FormatInt(v, 10)
	neg := v < 0
	if neg {
		num = num[1:]
	}
	width := c.Template.Width
	if width <= 0 {
		width = c.AvgLength - len(c.Template.Prefix) - len(c.Template.Suffix)
	}
	var b strings.Builder
	b.WriteString(c.Template.Prefix)
	if neg {
		b.WriteByte('-')
	}
	for i := len(num); i < width; i++ {
		b.WriteByte('0')
	}
	b.WriteString(num)
	b.WriteString(c.Template.Suffix)
	return b.String()
}

func formatScaled(v int64, scale int32) string {
	if scale <= 0 {
		return strconv.FormatInt(v, 10)
	}
	neg := v < 0
	u := uint64(v)
	if neg {
		u = uint64(-v)
	}
	digits := strconv.FormatUint(u, 10)
	if pad := int(scale) + 1 - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	cut := len(digits) - int(scale)
	out := digits[:cut] + "." + digits[cut:]
	if neg {
		return "-" + out
	}
	return out
}

// ParseTemporal converts a date or datetime literal into the column's code.
func ParseTemporal(enc ColumnType, s string) (int64, error) {
	s = strings.TrimSpace(s)
	if enc == TypeDate {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return 0, err
		}
		return t.Unix() / secondsPerDay, nil
	}
	t, err := time.Parse(datetimeLayout, s)
	if err != nil {
		t, err = time.Parse(dateLayout, s)
		if err != nil {
			return 0, err
		}
	}
	return t.Unix(), nil
}
