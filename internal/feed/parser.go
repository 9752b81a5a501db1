package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/fideliod/internal/luaexec"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

var ErrInvalidCommand = errors.New("invalid feed command")

// Parser turns the content of a feed file into a mutation.
type Parser interface {
	Parse(content string) (speaker.Desired, error)
}

// TextParser reads whitespace, comma or newline separated key=value tokens:
//
//	power=on volume=40 channel=2
//
// A channel may also be given by its configured identifier. Lines starting
// with # are ignored.
type TextParser struct {
	Channels []string
}

func (p TextParser) Parse(content string) (speaker.Desired, error) {
	var d speaker.Desired

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, tok := range strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == ';'
		}) {
			key, value, ok := strings.Cut(tok, "=")
			if !ok {
				return speaker.Desired{}, fmt.Errorf("%w: token %q is not key=value", ErrInvalidCommand, tok)
			}
			if err := p.set(&d, strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value)); err != nil {
				return speaker.Desired{}, err
			}
		}
	}
	return d, nil
}

func (p TextParser) set(d *speaker.Desired, key, value string) error {
	switch key {
	case "power":
		on, err := speaker.ParsePower(value)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		d.Power = &on
	case "volume":
		v, err := speaker.ParseVolume(value)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		d.Volume = v
	case "channel":
		index, err := p.channelIndex(value)
		if err != nil {
			return err
		}
		d.Channel = &index
	default:
		return fmt.Errorf("%w: unknown key %q", ErrInvalidCommand, key)
	}
	return nil
}

// channelIndex accepts a 1-based index or a configured channel identifier.
// Range checks on numeric indexes are left to Apply.
func (p TextParser) channelIndex(value string) (int, error) {
	if i, err := strconv.Atoi(value); err == nil {
		return i, nil
	}
	for i, ch := range p.Channels {
		if strings.EqualFold(ch, value) {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown channel %q", ErrInvalidCommand, value)
}

// ScriptParser hands the raw content to a global Lua function
// parse(content, channels) that returns a table with optional power, volume
// and channel fields, or nil to ignore the change.
type ScriptParser struct {
	Exec     *luaexec.Executor
	Channels []string
}

const parseFunction = "parse"

func (p ScriptParser) Parse(content string) (speaker.Desired, error) {
	ret, err := p.Exec.Call(parseFunction, content, p.Channels)
	if err != nil {
		return speaker.Desired{}, err
	}
	if ret == nil {
		return speaker.Desired{}, nil
	}

	fields, ok := ret.(map[string]any)
	if !ok {
		return speaker.Desired{}, fmt.Errorf("%w: %s must return a table, got %T", ErrInvalidCommand, parseFunction, ret)
	}
	return FromMap(fields, p.Channels)
}

// FromMap converts decoded fields (Lua tables, loose JSON) into a mutation.
// Numbers may arrive as float64 and booleans as strings.
func FromMap(fields map[string]any, channels []string) (speaker.Desired, error) {
	var d speaker.Desired
	text := TextParser{Channels: channels}

	for key, raw := range fields {
		var value string
		switch v := raw.(type) {
		case nil:
			continue
		case bool:
			value = strconv.FormatBool(v)
		case float64:
			if v != float64(int(v)) {
				return speaker.Desired{}, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidCommand, key, v)
			}
			value = strconv.Itoa(int(v))
		case string:
			value = v
		default:
			return speaker.Desired{}, fmt.Errorf("%w: unsupported %s value %T", ErrInvalidCommand, key, raw)
		}
		if err := text.set(&d, strings.ToLower(key), value); err != nil {
			return speaker.Desired{}, err
		}
	}
	return d, nil
}
