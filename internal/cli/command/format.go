package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yxlane/redstore-go/internal/server/redisserver"
)

// FormatFrame renders a reply frame the way redis-cli does, including a
// trailing newline.
func FormatFrame(f redisserver.Frame) string {
	var b strings.Builder
	writeFrame(&b, f, "", "")
	return b.String()
}

// writeFrame writes f with prefix before its first line; indent aligns any
// continuation lines of nested arrays.
func writeFrame(b *strings.Builder, f redisserver.Frame, prefix, indent string) {
	switch f.Type {
	case redisserver.TypeSimpleString:
		fmt.Fprintf(b, "%s%s\n", prefix, f.Str)
	case redisserver.TypeError:
		fmt.Fprintf(b, "%s(error) %s\n", prefix, f.Str)
	case redisserver.TypeInteger:
		fmt.Fprintf(b, "%s(integer) %d\n", prefix, f.Int)
	case redisserver.TypeBulkString:
		if f.Null {
			fmt.Fprintf(b, "%s(nil)\n", prefix)
			return
		}
		fmt.Fprintf(b, "%s%s\n", prefix, strconv.Quote(string(f.Bulk)))
	case redisserver.TypeArray:
		if f.Null {
			fmt.Fprintf(b, "%s(nil)\n", prefix)
			return
		}
		if len(f.Array) == 0 {
			fmt.Fprintf(b, "%s(empty array)\n", prefix)
			return
		}
		for i, el := range f.Array {
			num := fmt.Sprintf("%d) ", i+1)
			p := indent + num
			if i == 0 {
				p = prefix + num
			}
			writeFrame(b, el, p, indent+strings.Repeat(" ", len(num)))
		}
	default:
		fmt.Fprintf(b, "%s(unknown reply)\n", prefix)
	}
}
