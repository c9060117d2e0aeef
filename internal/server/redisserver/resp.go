package redisserver

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Protocol limits to prevent abuse.
const (
	// MaxArrayLen limits the number of elements in a RESP array.
	// Every supported command has a handful of args; this is ample headroom.
	MaxArrayLen = 1024

	// MaxBulkLen limits the size of a single bulk string (512KB).
	MaxBulkLen = 512 * 1024

	// MaxInlineLen limits inline command line length (4KB).
	MaxInlineLen = 4 * 1024
)

var (
	// ErrIncomplete reports that the buffer does not yet hold a full frame.
	// No input has been consumed; the caller should read more bytes and retry.
	ErrIncomplete = errors.New("resp: incomplete frame")

	// ErrProtocol reports malformed input. Fatal to the owning connection.
	ErrProtocol = errors.New("resp: protocol error")

	// ErrLimitExceeded reports input that exceeds a protocol limit.
	ErrLimitExceeded = errors.New("resp: limit exceeded")
)

// RESP type markers.
const (
	TypeSimpleString = '+'
	TypeError        = '-'
	TypeInteger      = ':'
	TypeBulkString   = '$'
	TypeArray        = '*'
)

// Frame is one decoded RESP message, request or response. Frames are
// transient: built per command, encoded, and discarded.
type Frame struct {
	Type  byte
	Str   string  // simple string / error text
	Int   int64   // integer
	Bulk  []byte  // bulk string payload
	Array []Frame // array elements
	Null  bool    // null bulk string or null array
}

var crlf = []byte("\r\n")

// DecodeFrame decodes a single frame from buf.
//
// It returns the frame and the number of bytes consumed. When buf does not
// yet contain a complete frame it returns ErrIncomplete and consumes
// nothing, so the caller can append more bytes and retry. Malformed input
// returns an error wrapping ErrProtocol or ErrLimitExceeded.
func DecodeFrame(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return Frame{}, 0, ErrIncomplete
	}

	switch buf[0] {
	case TypeSimpleString:
		line, n, err := decodeLine(buf[1:], MaxInlineLen)
		if err != nil {
			return Frame{}, 0, err
		}
		return Frame{Type: TypeSimpleString, Str: string(line)}, 1 + n, nil

	case TypeError:
		line, n, err := decodeLine(buf[1:], MaxInlineLen)
		if err != nil {
			return Frame{}, 0, err
		}
		return Frame{Type: TypeError, Str: string(line)}, 1 + n, nil

	case TypeInteger:
		line, n, err := decodeLine(buf[1:], 64)
		if err != nil {
			return Frame{}, 0, err
		}
		v, err := strconv.ParseInt(string(line), 10, 64)
		if err != nil {
			return Frame{}, 0, fmt.Errorf("%w: invalid integer", ErrProtocol)
		}
		return Frame{Type: TypeInteger, Int: v}, 1 + n, nil

	case TypeBulkString:
		return decodeBulk(buf)

	case TypeArray:
		return decodeArray(buf)

	default:
		return Frame{}, 0, fmt.Errorf("%w: unknown type byte %q", ErrProtocol, buf[0])
	}
}

func decodeBulk(buf []byte) (Frame, int, error) {
	// "$<len>\r\n<data>\r\n"
	line, n, err := decodeLine(buf[1:], 64)
	if err != nil {
		return Frame{}, 0, err
	}
	length, err := strconv.Atoi(string(line))
	if err != nil {
		return Frame{}, 0, fmt.Errorf("%w: invalid bulk length", ErrProtocol)
	}
	if length == -1 {
		return Frame{Type: TypeBulkString, Null: true}, 1 + n, nil
	}
	if length < 0 {
		return Frame{}, 0, fmt.Errorf("%w: invalid bulk length", ErrProtocol)
	}
	if length > MaxBulkLen {
		return Frame{}, 0, fmt.Errorf("%w: bulk length %d exceeds limit %d", ErrLimitExceeded, length, MaxBulkLen)
	}

	total := 1 + n + length + 2
	if len(buf) < total {
		return Frame{}, 0, ErrIncomplete
	}
	data := buf[1+n : 1+n+length]
	if !bytes.Equal(buf[1+n+length:total], crlf) {
		return Frame{}, 0, fmt.Errorf("%w: invalid bulk terminator", ErrProtocol)
	}
	// Copy out of the connection buffer: the caller reuses it.
	return Frame{Type: TypeBulkString, Bulk: append([]byte(nil), data...)}, total, nil
}

func decodeArray(buf []byte) (Frame, int, error) {
	// "*<count>\r\n" followed by count frames.
	line, n, err := decodeLine(buf[1:], 64)
	if err != nil {
		return Frame{}, 0, err
	}
	count, err := strconv.Atoi(string(line))
	if err != nil {
		return Frame{}, 0, fmt.Errorf("%w: invalid array length", ErrProtocol)
	}
	if count == -1 {
		return Frame{Type: TypeArray, Null: true}, 1 + n, nil
	}
	if count < 0 {
		return Frame{}, 0, fmt.Errorf("%w: invalid array length", ErrProtocol)
	}
	if count > MaxArrayLen {
		return Frame{}, 0, fmt.Errorf("%w: array length %d exceeds limit %d", ErrLimitExceeded, count, MaxArrayLen)
	}

	consumed := 1 + n
	elems := make([]Frame, 0, count)
	for i := 0; i < count; i++ {
		f, fn, err := DecodeFrame(buf[consumed:])
		if err != nil {
			return Frame{}, 0, err
		}
		elems = append(elems, f)
		consumed += fn
	}
	return Frame{Type: TypeArray, Array: elems}, consumed, nil
}

// decodeLine extracts one CRLF-terminated line from buf, returning the line
// without the terminator and the number of bytes consumed including it.
func decodeLine(buf []byte, maxLen int) ([]byte, int, error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		if len(buf) > maxLen {
			return nil, 0, fmt.Errorf("%w: line length exceeds limit %d", ErrLimitExceeded, maxLen)
		}
		return nil, 0, ErrIncomplete
	}
	if idx > maxLen {
		return nil, 0, fmt.Errorf("%w: line length exceeds limit %d", ErrLimitExceeded, maxLen)
	}
	if idx == 0 || buf[idx-1] != '\r' {
		return nil, 0, fmt.Errorf("%w: missing CRLF", ErrProtocol)
	}
	return buf[:idx-1], idx + 1, nil
}

// DecodeCommand decodes one client command from buf: either a RESP array of
// bulk strings or an inline command line ("PING\r\n", used by some clients).
// It returns the argument vector and bytes consumed. An empty command (blank
// inline line, empty or null array) returns nil args with input consumed.
func DecodeCommand(buf []byte) ([][]byte, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrIncomplete
	}

	if buf[0] != TypeArray {
		// Inline command.
		line, n, err := decodeLine(buf, MaxInlineLen)
		if err != nil {
			return nil, 0, err
		}
		fields := strings.Fields(string(line))
		if len(fields) == 0 {
			return nil, n, nil
		}
		args := make([][]byte, 0, len(fields))
		for _, f := range fields {
			args = append(args, []byte(f))
		}
		return args, n, nil
	}

	f, n, err := DecodeFrame(buf)
	if err != nil {
		return nil, 0, err
	}
	if f.Null || len(f.Array) == 0 {
		return nil, n, nil
	}

	args := make([][]byte, 0, len(f.Array))
	for _, el := range f.Array {
		switch {
		case el.Type == TypeBulkString && el.Null:
			args = append(args, nil)
		case el.Type == TypeBulkString:
			args = append(args, el.Bulk)
		case el.Type == TypeSimpleString:
			// Simple strings as args are accepted best-effort.
			args = append(args, []byte(el.Str))
		default:
			return nil, 0, fmt.Errorf("%w: expected bulk string in command array", ErrProtocol)
		}
	}
	return args, n, nil
}

// AppendFrame appends the RESP encoding of f to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	switch f.Type {
	case TypeSimpleString:
		dst = append(dst, '+')
		dst = append(dst, f.Str...)
		return append(dst, crlf...)

	case TypeError:
		dst = append(dst, '-')
		dst = append(dst, f.Str...)
		return append(dst, crlf...)

	case TypeInteger:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, f.Int, 10)
		return append(dst, crlf...)

	case TypeBulkString:
		if f.Null {
			return append(dst, "$-1\r\n"...)
		}
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(f.Bulk)), 10)
		dst = append(dst, crlf...)
		dst = append(dst, f.Bulk...)
		return append(dst, crlf...)

	case TypeArray:
		if f.Null {
			return append(dst, "*-1\r\n"...)
		}
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(len(f.Array)), 10)
		dst = append(dst, crlf...)
		for _, el := range f.Array {
			dst = AppendFrame(dst, el)
		}
		return dst

	default:
		// Unreachable for frames built by this package.
		return dst
	}
}

// EncodeFrame returns the RESP encoding of f.
func EncodeFrame(f Frame) []byte {
	return AppendFrame(nil, f)
}

// EncodeCommand encodes an argument vector as a RESP array of bulk strings.
func EncodeCommand(args [][]byte) []byte {
	f := Frame{Type: TypeArray, Array: make([]Frame, 0, len(args))}
	for _, a := range args {
		f.Array = append(f.Array, Frame{Type: TypeBulkString, Bulk: a})
	}
	return EncodeFrame(f)
}

// Frame constructors used by the command handlers.

func simpleStringFrame(s string) Frame {
	return Frame{Type: TypeSimpleString, Str: s}
}

func errorFrame(msg string) Frame {
	return Frame{Type: TypeError, Str: msg}
}

func integerFrame(n int64) Frame {
	return Frame{Type: TypeInteger, Int: n}
}

func bulkFrame(b []byte) Frame {
	if b == nil {
		return nullBulkFrame()
	}
	return Frame{Type: TypeBulkString, Bulk: b}
}

func bulkStringFrame(s string) Frame {
	return Frame{Type: TypeBulkString, Bulk: []byte(s)}
}

func nullBulkFrame() Frame {
	return Frame{Type: TypeBulkString, Null: true}
}

func arrayFrame(elems ...Frame) Frame {
	return Frame{Type: TypeArray, Array: elems}
}

func normalizeCommandName(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	// Uppercase ASCII without allocating for already uppercased tokens.
	if bytes.ContainsAny(b, "abcdefghijklmnopqrstuvwxyz") {
		return strings.ToUpper(string(b))
	}
	return string(b)
}
