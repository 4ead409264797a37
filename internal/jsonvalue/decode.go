// Package jsonvalue converts between JSON text and object values.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/ggipc/arena"
	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/object"
)

type container struct {
	isMap   bool
	list    object.List
	m       object.Map
	key     []byte
	haveKey bool
}

// Decode parses data as a single JSON value. Strings, keys and the backing
// arrays of lists and maps are allocated from a. Object member order is
// preserved and duplicate keys are kept. Integers decode as Int64, other
// numbers as Float64.
//
// Malformed input is a ggerr.Parse error, input beyond the value limits a
// ggerr.Range error and an exhausted arena a ggerr.NoMem error.
func Decode(data []byte, a *arena.Arena) (object.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var stack []*container
	subobjects := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ggerr.Errorf(ggerr.Parse, "jsonvalue: unexpected end of input")
			}
			return nil, ggerr.Errorf(ggerr.Parse, "jsonvalue: %w", err)
		}

		var top *container
		if len(stack) > 0 {
			top = stack[len(stack)-1]
		}
		if s, ok := tok.(string); ok && top != nil && top.isMap && !top.haveKey {
			key, err := alloc(a, s)
			if err != nil {
				return nil, err
			}
			top.key, top.haveKey = key, true
			continue
		}
		if d, ok := tok.(json.Delim); !ok || d == '[' || d == '{' {
			if len(stack)+1 > object.MaxDepth {
				return nil, ggerr.Errorf(ggerr.Range, "jsonvalue: depth exceeds %d", object.MaxDepth)
			}
		}

		var v object.Value
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '[', '{':
				stack = append(stack, &container{isMap: t == '{'})
				continue
			default:
				stack = stack[:len(stack)-1]
				if top.isMap {
					m, err := a.AllocMap(len(top.m))
					if err != nil {
						return nil, err
					}
					copy(m, top.m)
					v = m
				} else {
					l, err := a.AllocList(len(top.list))
					if err != nil {
						return nil, err
					}
					copy(l, top.list)
					v = l
				}
			}
		case string:
			b, err := alloc(a, t)
			if err != nil {
				return nil, err
			}
			v = object.Buffer(b)
		case json.Number:
			v, err = number(t)
			if err != nil {
				return nil, err
			}
		case bool:
			v = object.Bool(t)
		case nil:
			v = object.Null{}
		default:
			return nil, ggerr.Errorf(ggerr.Parse, "jsonvalue: unexpected token %T", tok)
		}

		if len(stack) == 0 {
			if _, err := dec.Token(); !errors.Is(err, io.EOF) {
				return nil, ggerr.Errorf(ggerr.Parse, "jsonvalue: trailing data after value")
			}
			return v, nil
		}
		parent := stack[len(stack)-1]
		if parent.isMap {
			subobjects += 2
			parent.m = append(parent.m, object.KV{Key: parent.key, Val: v})
			parent.key, parent.haveKey = nil, false
		} else {
			subobjects++
			parent.list = append(parent.list, v)
		}
		if subobjects > object.MaxSubobjects {
			return nil, ggerr.Errorf(ggerr.Range, "jsonvalue: subobject count exceeds %d", object.MaxSubobjects)
		}
	}
}

func alloc(a *arena.Arena, s string) ([]byte, error) {
	b, err := a.Alloc(len(s), 1)
	if err != nil {
		return nil, err
	}
	copy(b, s)
	return b, nil
}

func number(n json.Number) (object.Value, error) {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return object.Int64(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, ggerr.Errorf(ggerr.Range, "jsonvalue: number %s: %w", s, err)
	}
	return object.Float64(f), nil
}

// DecodeMap decodes data and requires the result to be a map. Empty input
// decodes as an empty map.
func DecodeMap(data []byte, a *arena.Arena) (object.Map, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return object.Map{}, nil
	}
	v, err := Decode(data, a)
	if err != nil {
		return nil, err
	}
	m, ok := v.(object.Map)
	if !ok {
		return nil, ggerr.Errorf(ggerr.Parse, "jsonvalue: expected object, got %s", object.TypeOf(v))
	}
	return m, nil
}
