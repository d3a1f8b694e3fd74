// Package logging provides the structured key=value event logger used
// across the server, grounded on the teacher's api.Logger/api.Recovery
// Gin middleware (internal/api/middleware.go) but generalized from fixed
// request-line formatting to arbitrary named events so non-HTTP
// components (registry, policy, session, transport) can emit the same
// shape of log line.
package logging

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

var std = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

// Event writes a single structured log line: "event=name k1=v1 k2=v2 ...",
// with fields sorted by key so output is deterministic and greppable.
func Event(name string, fields map[string]any) {
	std.Println(format(name, fields))
}

// Errorf logs the named event with err's message added as its "error"
// field (fields may be nil).
func Errorf(name string, err error, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["error"] = err.Error()
	std.Println(format(name, fields))
}

func format(name string, fields map[string]any) string {
	var b strings.Builder
	b.WriteString("event=")
	b.WriteString(name)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(toString(fields[k]))
	}
	return b.String()
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		if strings.ContainsAny(t, " \t\"") {
			return `"` + strings.ReplaceAll(t, `"`, `\"`) + `"`
		}
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprint(v)
	}
}
