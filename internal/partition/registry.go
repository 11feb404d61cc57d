// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package partition

import (
	"fmt"
	"log/slog"

	"github.com/ostafen/bbupdate/internal/block"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/filetype"
)

// probeSectors is the number of sectors read to detect a table: the MBR,
// the GPT header and a full GPT entry array.
const probeSectors = 34

// Registry holds the partition table formats known to the system. Parsers
// are tried in registration order.
type Registry struct {
	parsers []Parser
	log     *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log}
}

// DefaultRegistry returns a registry with all built-in formats.
func DefaultRegistry(log *slog.Logger) *Registry {
	r := NewRegistry(log)
	r.Register(EFIParser{})
	r.Register(DOSParser{})
	r.Register(BFPTParser{})
	return r
}

// Register appends p. Registering a type twice is allowed, the first parser wins.
func (r *Registry) Register(p Parser) {
	for _, e := range r.parsers {
		if e.Type() == p.Type() {
			r.log.Warn("partition parser type already registered", "parser", p.Name(), "type", p.Type().ShortName())
		}
	}
	r.parsers = append(r.parsers, p)
}

func (r *Registry) Parsers() []Parser {
	return append([]Parser(nil), r.parsers...)
}

// Lookup returns the parser named name.
func (r *Registry) Lookup(name string) (Parser, error) {
	for _, p := range r.parsers {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("partition table type %q: %w", name, errs.ErrUnsupportedFormat)
}

// ReadTable detects and parses the partition table of blk. The device is
// only read. ErrNotFound means blk carries no known table.
func (r *Registry) ReadTable(blk *block.Device) (*Table, error) {
	n := min(uint64(probeSectors), blk.NumBlocks())
	if n == 0 {
		return nil, fmt.Errorf("%s: empty device: %w", blk.Name(), errs.ErrNotFound)
	}

	buf, err := blk.ReadBlocks(0, int(n))
	if err != nil {
		return nil, fmt.Errorf("reading partition table of %s: %w", blk.Name(), err)
	}

	typ := filetype.DetectPartitionTable(buf)
	if typ == filetype.Unknown {
		return nil, fmt.Errorf("no partition table on %s: %w", blk.Name(), errs.ErrNotFound)
	}

	for _, p := range r.parsers {
		if p.Type() != typ {
			continue
		}

		t, err := p.Parse(buf, blk)
		if err != nil {
			return nil, fmt.Errorf("parsing %s table of %s: %w", p.Name(), blk.Name(), err)
		}
		t.SetLogger(r.log)

		r.log.Debug("partition table found", "device", blk.Name(), "type", p.Name(), "partitions", len(t.Parts))
		return t, nil
	}
	return nil, fmt.Errorf("no parser for %s on %s: %w", typ, blk.Name(), errs.ErrNotFound)
}

// NewTable creates an empty table of the named type. Nothing is written
// until Table.Write is called.
func (r *Registry) NewTable(blk *block.Device, name string) (*Table, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	c, ok := p.(Creator)
	if !ok {
		return nil, fmt.Errorf("%s tables cannot be created: %w", name, errs.ErrUnsupportedFormat)
	}

	t, err := c.Create(blk)
	if err != nil {
		return nil, err
	}
	t.SetLogger(r.log)
	return t, nil
}
