// Package parser reads facts from plain text files.
//
// A fact starts with a "Q:" line and may carry "A:" and "C:" sections.
// Each section runs until the next marker. A "---" line or a new "Q:"
// closes the current fact.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/knol"
)

type field int

const (
	none field = iota
	question
	answer
	context
)

const separator = "---"

// maxLineSize bounds a single line. Longer lines fail the whole file.
const maxLineSize = 1 << 20

var markers = []struct {
	prefix string
	field  field
}{
	{"Q:", question},
	{"A:", answer},
	{"C:", context},
}

// ParseFile reads a file from the given path and extracts all facts.
func ParseFile(path string) ([]domain.Fact, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads from an io.Reader and extracts all facts. Every returned fact
// carries its content hash.
func Parse(r io.Reader) ([]domain.Fact, error) {
	p := &factParser{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		p.line(scanner.Text())
	}
	p.finish()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p.facts, nil
}

type factParser struct {
	facts   []domain.Fact
	current domain.Fact
	field   field
	block   []string
}

func (p *factParser) line(line string) {
	if line == separator {
		p.finish()
		return
	}
	for _, m := range markers {
		rest, ok := strings.CutPrefix(line, m.prefix)
		if !ok {
			continue
		}
		p.flush()
		if m.field == question && p.field != none {
			p.finish()
		}
		p.field = m.field
		p.block = append(p.block, strings.TrimPrefix(rest, " "))
		return
	}
	if p.field != none {
		p.block = append(p.block, line)
	}
}

// flush stores the collected lines in the field being read.
func (p *factParser) flush() {
	if len(p.block) == 0 {
		return
	}
	content := strings.Join(p.block, "\n")
	switch p.field {
	case question:
		p.current.Question = content
	case answer:
		p.current.Answer = content
	case context:
		p.current.Context = content
	}
	p.block = nil
}

func (p *factParser) finish() {
	p.flush()
	if p.current.Question != "" {
		p.current.Question = strings.TrimSpace(p.current.Question)
		p.current.Answer = strings.TrimSpace(p.current.Answer)
		p.current.Context = strings.TrimSpace(p.current.Context)
		p.current.Hash = knol.Hash(p.current)
		p.facts = append(p.facts, p.current)
	}
	p.current = domain.Fact{}
	p.field = none
}
