// Package redisserver provides the RESP protocol server for redstore.
package redisserver

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/yxlane/redstore-go/internal/storage/memory"
	"github.com/yxlane/redstore-go/internal/telemetry/metric"
)

// commandKind enumerates the recognized command set. Dispatch is an
// exhaustive switch over this enum rather than an open string-keyed table,
// so the command surface stays statically auditable.
type commandKind int

const (
	cmdUnknown commandKind = iota
	cmdPing
	cmdEcho
	cmdSet
	cmdGet
	cmdDel
	cmdExists
	cmdExpire
	cmdPExpire
	cmdTTL
	cmdPTTL
	cmdPersist
	cmdIncr
	cmdDecr
	cmdIncrBy
	cmdKeys
	cmdDBSize
	cmdFlushAll
	cmdQuit
)

// parseCommand maps a case-insensitive command name to its kind.
func parseCommand(name string) commandKind {
	switch name {
	case "PING":
		return cmdPing
	case "ECHO":
		return cmdEcho
	case "SET":
		return cmdSet
	case "GET":
		return cmdGet
	case "DEL":
		return cmdDel
	case "EXISTS":
		return cmdExists
	case "EXPIRE":
		return cmdExpire
	case "PEXPIRE":
		return cmdPExpire
	case "TTL":
		return cmdTTL
	case "PTTL":
		return cmdPTTL
	case "PERSIST":
		return cmdPersist
	case "INCR":
		return cmdIncr
	case "DECR":
		return cmdDecr
	case "INCRBY":
		return cmdIncrBy
	case "KEYS":
		return cmdKeys
	case "DBSIZE":
		return cmdDBSize
	case "FLUSHALL":
		return cmdFlushAll
	case "QUIT":
		return cmdQuit
	default:
		return cmdUnknown
	}
}

// CommandHandler dispatches decoded commands against the store.
type CommandHandler struct {
	store   *memory.Store
	logger  *slog.Logger
	metrics *metric.Registry
}

// NewCommandHandler creates a CommandHandler. metrics may be nil.
func NewCommandHandler(store *memory.Store, metrics *metric.Registry, logger *slog.Logger) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandHandler{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Dispatch maps one argument vector to a response frame. The second return
// value is true when the connection should be closed after the response is
// written (QUIT).
//
// Command errors (unknown name, bad arity, malformed option values) come
// back as RESP error frames; Dispatch never panics on well-framed input and
// never asks to close the connection for them.
func (h *CommandHandler) Dispatch(args [][]byte) (Frame, bool) {
	if len(args) == 0 {
		return errorFrame("ERR no command"), false
	}

	name := normalizeCommandName(args[0])
	kind := parseCommand(name)

	start := time.Now()
	resp, quit := h.dispatch(kind, name, args)
	if h.metrics != nil {
		status := "ok"
		if resp.Type == TypeError {
			status = "error"
		}
		label := name
		if kind == cmdUnknown {
			label = "UNKNOWN" // bounded label cardinality
		}
		h.metrics.CommandsTotal.WithLabelValues(label, status).Inc()
		h.metrics.CommandDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}
	return resp, quit
}

func (h *CommandHandler) dispatch(kind commandKind, name string, args [][]byte) (Frame, bool) {
	switch kind {
	case cmdPing:
		return h.handlePing(args), false
	case cmdEcho:
		return h.handleEcho(args), false
	case cmdSet:
		return h.handleSet(args), false
	case cmdGet:
		return h.handleGet(args), false
	case cmdDel:
		return h.handleDel(args), false
	case cmdExists:
		return h.handleExists(args), false
	case cmdExpire:
		return h.handleExpire(args, time.Second), false
	case cmdPExpire:
		return h.handleExpire(args, time.Millisecond), false
	case cmdTTL:
		return h.handleTTL(args, time.Second), false
	case cmdPTTL:
		return h.handleTTL(args, time.Millisecond), false
	case cmdPersist:
		return h.handlePersist(args), false
	case cmdIncr:
		return h.handleIncrBy(args, 1, false), false
	case cmdDecr:
		return h.handleIncrBy(args, -1, false), false
	case cmdIncrBy:
		return h.handleIncrBy(args, 1, true), false
	case cmdKeys:
		return h.handleKeys(args), false
	case cmdDBSize:
		return h.handleDBSize(args), false
	case cmdFlushAll:
		return h.handleFlushAll(args), false
	case cmdQuit:
		return simpleStringFrame("OK"), true
	case cmdUnknown:
		return errorFrame("ERR unknown command '" + name + "'"), false
	default:
		return errorFrame("ERR unknown command '" + name + "'"), false
	}
}

func wrongArity(name string) Frame {
	return errorFrame("ERR wrong number of arguments for '" + name + "' command")
}

// PING [message]
func (h *CommandHandler) handlePing(args [][]byte) Frame {
	switch len(args) {
	case 1:
		return simpleStringFrame("PONG")
	case 2:
		return bulkFrame(args[1])
	default:
		return wrongArity("PING")
	}
}

// ECHO <message>
func (h *CommandHandler) handleEcho(args [][]byte) Frame {
	if len(args) != 2 {
		return wrongArity("ECHO")
	}
	return bulkFrame(args[1])
}

// SET <key> <value> [EX seconds | PX milliseconds]
//
// A SET without an expiry option clears any expiry the key had before.
func (h *CommandHandler) handleSet(args [][]byte) Frame {
	if len(args) < 3 {
		return wrongArity("SET")
	}

	key := string(args[1])
	value := args[2]

	var ttl time.Duration
	hasTTL := false
	for i := 3; i < len(args); i += 2 {
		opt := strings.ToUpper(string(args[i]))
		var unit time.Duration
		switch opt {
		case "EX":
			unit = time.Second
		case "PX":
			unit = time.Millisecond
		default:
			return errorFrame("ERR syntax error")
		}
		if i+1 >= len(args) {
			return errorFrame("ERR syntax error")
		}
		n, err := strconv.ParseInt(string(args[i+1]), 10, 64)
		if err != nil {
			return errorFrame("ERR value is not an integer or out of range")
		}
		ttl = time.Duration(n) * unit
		hasTTL = true
	}

	if hasTTL {
		h.store.SetWithTTL(key, value, ttl)
	} else {
		h.store.Set(key, value)
	}
	return simpleStringFrame("OK")
}

// GET <key>
func (h *CommandHandler) handleGet(args [][]byte) Frame {
	if len(args) != 2 {
		return wrongArity("GET")
	}
	value, ok := h.store.Get(string(args[1]))
	if !ok {
		return nullBulkFrame()
	}
	return bulkFrame(value)
}

// DEL <key> [key ...]
func (h *CommandHandler) handleDel(args [][]byte) Frame {
	if len(args) < 2 {
		return wrongArity("DEL")
	}
	deleted := 0
	for _, key := range args[1:] {
		if h.store.Delete(string(key)) {
			deleted++
		}
	}
	return integerFrame(int64(deleted))
}

// EXISTS <key> [key ...]
func (h *CommandHandler) handleExists(args [][]byte) Frame {
	if len(args) < 2 {
		return wrongArity("EXISTS")
	}
	count := 0
	for _, key := range args[1:] {
		if h.store.Exists(string(key)) {
			count++
		}
	}
	return integerFrame(int64(count))
}

// EXPIRE <key> <seconds> / PEXPIRE <key> <milliseconds>
func (h *CommandHandler) handleExpire(args [][]byte, unit time.Duration) Frame {
	name := "EXPIRE"
	if unit == time.Millisecond {
		name = "PEXPIRE"
	}
	if len(args) != 3 {
		return wrongArity(name)
	}
	n, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return errorFrame("ERR value is not an integer or out of range")
	}
	if h.store.Expire(string(args[1]), time.Duration(n)*unit) {
		return integerFrame(1)
	}
	return integerFrame(0)
}

// TTL <key> / PTTL <key>
//
// Returns -2 if the key does not exist, -1 if it has no expiry, otherwise
// the remaining time in the requested unit.
func (h *CommandHandler) handleTTL(args [][]byte, unit time.Duration) Frame {
	name := "TTL"
	if unit == time.Millisecond {
		name = "PTTL"
	}
	if len(args) != 2 {
		return wrongArity(name)
	}
	remaining, state := h.store.TTL(string(args[1]))
	switch state {
	case memory.TTLMissing:
		return integerFrame(-2)
	case memory.TTLPersistent:
		return integerFrame(-1)
	default:
		return integerFrame(int64(remaining / unit))
	}
}

// PERSIST <key>
func (h *CommandHandler) handlePersist(args [][]byte) Frame {
	if len(args) != 2 {
		return wrongArity("PERSIST")
	}
	if h.store.Persist(string(args[1])) {
		return integerFrame(1)
	}
	return integerFrame(0)
}

// INCR <key> / DECR <key> / INCRBY <key> <increment>
func (h *CommandHandler) handleIncrBy(args [][]byte, sign int64, explicit bool) Frame {
	delta := sign
	if explicit {
		if len(args) != 3 {
			return wrongArity("INCRBY")
		}
		n, err := strconv.ParseInt(string(args[2]), 10, 64)
		if err != nil {
			return errorFrame("ERR value is not an integer or out of range")
		}
		delta = n
	} else if len(args) != 2 {
		name := "INCR"
		if sign < 0 {
			name = "DECR"
		}
		return wrongArity(name)
	}

	result, err := h.store.IncrBy(string(args[1]), delta)
	if err != nil {
		return errorFrame("ERR value is not an integer or out of range")
	}
	return integerFrame(result)
}

// KEYS <pattern>
func (h *CommandHandler) handleKeys(args [][]byte) Frame {
	if len(args) != 2 {
		return wrongArity("KEYS")
	}
	pattern := string(args[1])

	var matched []Frame
	for _, key := range h.store.Keys() {
		if matchGlob(pattern, key) {
			matched = append(matched, bulkStringFrame(key))
		}
	}
	return Frame{Type: TypeArray, Array: matched}
}

// DBSIZE
func (h *CommandHandler) handleDBSize(args [][]byte) Frame {
	if len(args) != 1 {
		return wrongArity("DBSIZE")
	}
	return integerFrame(int64(h.store.Len()))
}

// FLUSHALL
func (h *CommandHandler) handleFlushAll(args [][]byte) Frame {
	if len(args) != 1 {
		return wrongArity("FLUSHALL")
	}
	h.store.FlushAll()
	return simpleStringFrame("OK")
}

// matchGlob matches a string against a simple glob pattern.
// Supports * as a wildcard that matches any characters.
func matchGlob(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == "" {
		return s == ""
	}

	if !strings.Contains(pattern, "*") {
		return pattern == s
	}

	// Single trailing wildcard (prefix match): "prefix*"
	if strings.HasSuffix(pattern, "*") && !strings.Contains(pattern[:len(pattern)-1], "*") {
		return strings.HasPrefix(s, pattern[:len(pattern)-1])
	}

	// Single leading wildcard (suffix match): "*suffix"
	if strings.HasPrefix(pattern, "*") && !strings.Contains(pattern[1:], "*") {
		return strings.HasSuffix(s, pattern[1:])
	}

	parts := strings.Split(pattern, "*")

	if parts[0] != "" && !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	// Middle parts must appear in order.
	for i := 1; i < len(parts)-1; i++ {
		if parts[i] == "" {
			continue
		}
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}

	if last := parts[len(parts)-1]; last != "" {
		return strings.HasSuffix(s, last)
	}
	return true
}
