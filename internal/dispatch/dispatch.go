// Package dispatch parses one line of the wire protocol, operates on
// the registry, and formats the response bytes exactly as the wire
// protocol specifies (including line terminators).
package dispatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/csvquery/bloomd/internal/entry"
	"github.com/csvquery/bloomd/internal/iniconf"
	"github.com/csvquery/bloomd/internal/logging"
	"github.com/csvquery/bloomd/internal/registry"
)

const crlf = "\r\n"

var (
	errBadArgs      = errors.New("Client Error: Bad arguments")
	errUnsupported  = errors.New("Client Error: Command not supported")
	errFilterAbsent = errors.New("Filter does not exist")
)

// Dispatch parses line (already stripped of its trailing newline) and
// returns the full response, including trailing \r\n / the START/END
// block terminators.
func Dispatch(reg *registry.Registry, cfg iniconf.ServerConfig, line []byte) []byte {
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return nil
	}

	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "create":
		return handleCreate(reg, cfg, args)
	case "set", "s":
		return handleSet(reg, args)
	case "check", "c":
		return handleCheck(reg, args)
	case "bulk", "b":
		return handleBulk(reg, args)
	case "multi", "m":
		return handleMulti(reg, args)
	case "drop":
		return handleDrop(reg, args)
	case "close":
		return handleClose(reg, args)
	case "clear":
		return handleClear(reg, args)
	case "flush":
		return handleFlush(reg, args)
	case "info":
		return handleInfo(reg, args)
	case "list":
		return handleList(reg, args)
	default:
		return line1(errUnsupported.Error())
	}
}

func line1(s string) []byte { return []byte(s + crlf) }

func block(lines []string) []byte {
	var sb strings.Builder
	sb.WriteString("START" + crlf)
	for _, l := range lines {
		sb.WriteString(l + crlf)
	}
	sb.WriteString("END" + crlf)
	return []byte(sb.String())
}

func handleCreate(reg *registry.Registry, cfg iniconf.ServerConfig, args []string) []byte {
	if len(args) < 1 {
		return line1(errBadArgs.Error())
	}
	name := args[0]

	capacity := cfg.InitialCapacity
	probability := cfg.DefaultProbability
	inMemory := cfg.InMemory

	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return line1(errBadArgs.Error())
		}
		switch k {
		case "capacity":
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return line1(errBadArgs.Error())
			}
			capacity = n
		case "prob":
			p, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return line1(errBadArgs.Error())
			}
			probability = p
		case "in_memory":
			switch v {
			case "0":
				inMemory = false
			case "1":
				inMemory = true
			default:
				return line1(errBadArgs.Error())
			}
		default:
			return line1(errBadArgs.Error())
		}
	}

	if reg.Exists(name) {
		return line1("Exists")
	}

	existed, err := reg.Create(name, capacity, probability, inMemory)
	if err != nil {
		logging.FilterError(name, err)
		return line1("Client Error: " + err.Error())
	}
	if existed {
		return line1("Exists")
	}
	return line1("Done")
}

func lookup(reg *registry.Registry, name string) (*entry.FilterEntry, []byte) {
	e, ok := reg.Get(name)
	if !ok {
		return nil, line1(errFilterAbsent.Error())
	}
	return e, nil
}

func handleSet(reg *registry.Registry, args []string) []byte {
	if len(args) != 2 {
		return line1(errBadArgs.Error())
	}
	e, errResp := lookup(reg, args[0])
	if errResp != nil {
		return errResp
	}
	g, err := e.Set([]byte(args[1]))
	if err != nil {
		return loadOrGenericError(args[0], err)
	}
	return line1(strconv.Itoa(g))
}

func handleCheck(reg *registry.Registry, args []string) []byte {
	if len(args) != 2 {
		return line1(errBadArgs.Error())
	}
	e, errResp := lookup(reg, args[0])
	if errResp != nil {
		return errResp
	}
	g, err := e.Check([]byte(args[1]))
	if err != nil {
		return loadOrGenericError(args[0], err)
	}
	return line1(strconv.Itoa(g))
}

func handleBulk(reg *registry.Registry, args []string) []byte {
	if len(args) < 2 {
		return line1(errBadArgs.Error())
	}
	e, errResp := lookup(reg, args[0])
	if errResp != nil {
		return errResp
	}
	keys := toByteSlices(args[1:])
	results, err := e.SetBulk(keys)
	if err != nil {
		return loadOrGenericError(args[0], err)
	}
	return line1(joinInts(results))
}

func handleMulti(reg *registry.Registry, args []string) []byte {
	if len(args) < 2 {
		return line1(errBadArgs.Error())
	}
	e, errResp := lookup(reg, args[0])
	if errResp != nil {
		return errResp
	}
	keys := toByteSlices(args[1:])
	results, err := e.CheckMulti(keys)
	if err != nil {
		return loadOrGenericError(args[0], err)
	}
	return line1(joinInts(results))
}

func handleDrop(reg *registry.Registry, args []string) []byte {
	if len(args) != 1 {
		return line1(errBadArgs.Error())
	}
	if err := reg.Drop(args[0]); err != nil {
		return line1(errFilterAbsent.Error())
	}
	return line1("Done")
}

func handleClose(reg *registry.Registry, args []string) []byte {
	if len(args) != 1 {
		return line1(errBadArgs.Error())
	}
	e, errResp := lookup(reg, args[0])
	if errResp != nil {
		return errResp
	}
	if err := e.Close(); err != nil {
		logging.FilterError(args[0], err)
		return line1("Client Error: " + err.Error())
	}
	return line1("Done")
}

func handleClear(reg *registry.Registry, args []string) []byte {
	if len(args) != 1 {
		return line1(errBadArgs.Error())
	}
	if err := reg.Clear(args[0]); err != nil {
		return line1(errFilterAbsent.Error())
	}
	return line1("Done")
}

func handleFlush(reg *registry.Registry, args []string) []byte {
	if len(args) > 1 {
		return line1(errBadArgs.Error())
	}
	if len(args) == 1 {
		e, errResp := lookup(reg, args[0])
		if errResp != nil {
			return errResp
		}
		if err := e.Flush(); err != nil {
			logging.FilterError(args[0], err)
			return line1("Client Error: " + err.Error())
		}
		return line1("Done")
	}

	reg.Each(func(name string, e *entry.FilterEntry) {
		if err := e.Flush(); err != nil {
			logging.FilterError(name, err)
		}
	})
	return line1("Done")
}

func handleInfo(reg *registry.Registry, args []string) []byte {
	if len(args) != 1 {
		return line1(errBadArgs.Error())
	}
	e, errResp := lookup(reg, args[0])
	if errResp != nil {
		return errResp
	}
	body := e.Info()
	var sb strings.Builder
	sb.WriteString("START" + crlf)
	sb.WriteString(body)
	sb.WriteString("END" + crlf)
	return []byte(sb.String())
}

func handleList(reg *registry.Registry, args []string) []byte {
	if len(args) > 1 {
		return line1(errBadArgs.Error())
	}
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	return block(reg.List(prefix))
}

func loadOrGenericError(name string, err error) []byte {
	logging.FilterError(name, err)
	return line1(fmt.Sprintf("Client Error: %v", err))
}

func toByteSlices(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}
