package batch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vertica-tools/vload/pkg/config"
)

// buildCopySQL renders the bulk-copy statement for one session. Option order
// follows what the database expects: the reject clauses directly after the
// source, the format options next, NO COMMIT last.
func buildCopySQL(table string, columns []string, opts config.CopyOptions, rejectTable string) string {
	var b strings.Builder

	b.WriteString("COPY ")
	b.WriteString(table)

	if len(columns) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(columns, ", "))
		b.WriteString(")")
	}

	b.WriteString(" FROM STDIN")

	if opts.RejectedData && rejectTable != "" {
		b.WriteString(" REJECTED DATA AS TABLE ")
		b.WriteString(rejectTable)
	}

	b.WriteString(" REJECTMAX ")
	b.WriteString(strconv.Itoa(opts.RejectMax))
	b.WriteString(" DELIMITER ")
	b.WriteString(copyLiteral(opts.Delimiter))
	b.WriteString(" ENCLOSED BY ")
	b.WriteString(copyLiteral(opts.EnclosedBy))
	b.WriteString(" SKIP ")
	b.WriteString(strconv.Itoa(opts.Skip))
	b.WriteString(" NULL ")
	b.WriteString(copyLiteral(opts.NullToken))
	b.WriteString(" RECORD TERMINATOR ")
	b.WriteString(copyLiteral(opts.RecordTerminator))

	if opts.NoCommit {
		b.WriteString(" NO COMMIT")
	}

	return b.String()
}

// copyLiteral quotes a COPY option value. Printable values become standard
// quoted literals; control characters use the extended E'\xNN' form.
func copyLiteral(s string) string {
	needsExtended := false
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e || s[i] == '\\' {
			needsExtended = true
			break
		}
	}

	if !needsExtended {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}

	var b strings.Builder
	b.WriteString("E'")
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			b.WriteString(`\\`)
		case c == '\'':
			b.WriteString(`''`)
		case c < 0x20 || c > 0x7e:
			fmt.Fprintf(&b, `\x%02x`, c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteString("'")
	return b.String()
}

// encodeRow appends one delimited record to dst and returns the result.
// Nil values render as the bare null token; everything else is enclosed and
// has embedded enclosure characters escaped.
func encodeRow(dst []byte, values []interface{}, opts config.CopyOptions) []byte {
	for i, value := range values {
		if i > 0 {
			dst = append(dst, opts.Delimiter...)
		}
		if value == nil {
			dst = append(dst, opts.NullToken...)
			continue
		}
		dst = append(dst, opts.EnclosedBy...)
		dst = appendEscaped(dst, formatValue(value), opts.EnclosedBy)
		dst = append(dst, opts.EnclosedBy...)
	}
	return append(dst, opts.RecordTerminator...)
}

func appendEscaped(dst []byte, s, enclosedBy string) []byte {
	if enclosedBy == "" || !strings.Contains(s, enclosedBy) {
		return append(dst, s...)
	}
	return append(dst, strings.ReplaceAll(s, enclosedBy, `\`+enclosedBy)...)
}

// formatValue renders one column value as its COPY text form.
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(v)
	}
}
