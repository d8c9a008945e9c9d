package linkerscript

import (
	"fmt"
	"strconv"
	"strings"
)

// parser is a recursive-descent parser over the script subset spec.md
// section 6 names. It is single-use: construct with Parse, discard after.
type parser struct {
	lex  *lexer
	tok  token
	peeked *token
}

// Parse lexes and parses a complete linker script.
func Parse(src string) (*Script, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	s := &Script{}
	for p.tok.Kind != tokEOF {
		if err := p.parseTopLevel(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *parser) advance() error {
	if p.peeked != nil {
		p.tok = *p.peeked
		p.peeked = nil
		return nil
	}
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) peekNext() (token, error) {
	if p.peeked == nil {
		t, err := p.lex.next()
		if err != nil {
			return token{}, err
		}
		p.peeked = &t
	}
	return *p.peeked, nil
}

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf("linkerscript: line %d: %s", p.tok.Line, fmt.Sprintf(format, args...))
}

func (p *parser) expectPunct(s string) error {
	if p.tok.Kind != tokPunct || p.tok.Text != s {
		return p.errf("expected %q, got %q", s, p.tok.Text)
	}
	return p.advance()
}

func (p *parser) isPunct(s string) bool { return p.tok.Kind == tokPunct && p.tok.Text == s }
func (p *parser) isIdent(s string) bool {
	return p.tok.Kind == tokIdent && strings.EqualFold(p.tok.Text, s)
}

func (p *parser) identText() (string, error) {
	if p.tok.Kind != tokIdent {
		return "", p.errf("expected identifier, got %q", p.tok.Text)
	}
	text := p.tok.Text
	return text, p.advance()
}

// parseTopLevel consumes one top-level command.
func (p *parser) parseTopLevel(s *Script) error {
	switch {
	case p.isIdent("ENTRY"):
		p.advance()
		name, err := p.parenIdent()
		if err != nil {
			return err
		}
		s.Entry = name
		return p.semiOpt()

	case p.isIdent("OUTPUT_FORMAT"):
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return err
		}
		for !p.isPunct(")") {
			v, err := p.anyLiteral()
			if err != nil {
				return err
			}
			s.OutputFormat = append(s.OutputFormat, v)
			if p.isPunct(",") {
				p.advance()
			}
		}
		p.advance()
		return p.semiOpt()

	case p.isIdent("OUTPUT_ARCH"):
		p.advance()
		v, err := p.parenIdent()
		if err != nil {
			return err
		}
		s.OutputArch = v
		return p.semiOpt()

	case p.isIdent("OUTPUT"):
		p.advance()
		v, err := p.parenIdent()
		if err != nil {
			return err
		}
		s.Output = v
		return p.semiOpt()

	case p.isIdent("STARTUP"):
		p.advance()
		v, err := p.parenIdent()
		if err != nil {
			return err
		}
		s.Startup = v
		return p.semiOpt()

	case p.isIdent("SEARCH_DIR"):
		p.advance()
		v, err := p.parenIdent()
		if err != nil {
			return err
		}
		s.SearchDirs = append(s.SearchDirs, v)
		return p.semiOpt()

	case p.isIdent("EXTERN"):
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return err
		}
		for !p.isPunct(")") {
			n, err := p.identText()
			if err != nil {
				return err
			}
			s.Externs = append(s.Externs, n)
			if p.isPunct(",") {
				p.advance()
			}
		}
		p.advance()
		return p.semiOpt()

	case p.isIdent("ASSERT"):
		p.advance()
		a, err := p.parseAssert()
		if err != nil {
			return err
		}
		s.Asserts = append(s.Asserts, a)
		return p.semiOpt()

	case p.isIdent("INCLUDE"):
		p.advance()
		// Non-recursive: this engine does not perform filesystem access
		// from within the parser. Callers wanting INCLUDE expansion must
		// pre-process script text and concatenate included files before
		// calling Parse (spec.md section 6 names INCLUDE as in scope,
		// not a requirement that this package do file I/O).
		if _, err := p.identText(); err != nil {
			return err
		}
		return p.semiOpt()

	case p.isIdent("INPUT") || p.isIdent("GROUP"):
		asGroupOnly := p.isIdent("GROUP")
		p.advance()
		specs, err := p.parseInputList()
		if err != nil {
			return err
		}
		if asGroupOnly {
			s.Inputs = append(s.Inputs, InputSpec{Group: specs})
		} else {
			s.Inputs = append(s.Inputs, specs...)
		}
		return p.semiOpt()

	case p.isIdent("MEMORY"):
		p.advance()
		regions, err := p.parseMemory()
		if err != nil {
			return err
		}
		s.Memory = regions
		return nil

	case p.isIdent("PHDRS"):
		p.advance()
		phdrs, err := p.parsePhdrs()
		if err != nil {
			return err
		}
		s.Phdrs = phdrs
		return nil

	case p.isIdent("SECTIONS"):
		p.advance()
		sec, err := p.parseSections()
		if err != nil {
			return err
		}
		s.Sections = sec
		return nil

	case p.isIdent("VERSION"):
		p.advance()
		v, err := p.parseVersion()
		if err != nil {
			return err
		}
		s.Version = v
		return nil

	case p.tok.Kind == tokIdent:
		a, err := p.parseAssignStmt()
		if err != nil {
			return err
		}
		s.TopLevelAssigns = append(s.TopLevelAssigns, a)
		return p.semiOpt()

	case p.isPunct(";"):
		return p.advance()

	default:
		return p.errf("unexpected token %q at top level", p.tok.Text)
	}
}

func (p *parser) semiOpt() error {
	if p.isPunct(";") {
		return p.advance()
	}
	return nil
}

// parenIdent reads "(...)" and concatenates every token's literal text up
// to the matching close paren. A plain identText() isn't enough because
// forms like OUTPUT_ARCH(i386:x86-64) split across multiple tokens (':' is
// not an identifier-continuation byte).
func (p *parser) parenIdent() (string, error) {
	if err := p.expectPunct("("); err != nil {
		return "", err
	}
	var sb strings.Builder
	for !p.isPunct(")") {
		if p.tok.Kind == tokEOF {
			return "", p.errf("unexpected EOF inside parentheses")
		}
		sb.WriteString(p.tok.Text)
		if err := p.advance(); err != nil {
			return "", err
		}
	}
	return sb.String(), p.advance()
}

// anyLiteral accepts either an identifier or a quoted string, used for
// OUTPUT_FORMAT's variant list.
func (p *parser) anyLiteral() (string, error) {
	if p.tok.Kind == tokString {
		v := p.tok.Text
		return v, p.advance()
	}
	return p.identText()
}

func (p *parser) parseAssert() (Assert, error) {
	if err := p.expectPunct("("); err != nil {
		return Assert{}, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return Assert{}, err
	}
	if err := p.expectPunct(","); err != nil {
		return Assert{}, err
	}
	msg := p.tok.Text
	if err := p.advance(); err != nil {
		return Assert{}, err
	}
	if err := p.expectPunct(")"); err != nil {
		return Assert{}, err
	}
	return Assert{Expr: e, Message: msg}, nil
}

// parseInputList parses the comma/space separated list inside
// INPUT(...)/GROUP(...), including nested AS_NEEDED(...) groups.
func (p *parser) parseInputList() ([]InputSpec, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var out []InputSpec
	for !p.isPunct(")") {
		spec, err := p.parseInputItem()
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
		if p.isPunct(",") {
			p.advance()
		}
	}
	return out, p.advance()
}

func (p *parser) parseInputItem() (InputSpec, error) {
	if p.isIdent("AS_NEEDED") {
		p.advance()
		group, err := p.parseInputList()
		if err != nil {
			return InputSpec{}, err
		}
		for i := range group {
			group[i].AsNeeded = true
		}
		return InputSpec{AsNeeded: true, Group: group}, nil
	}
	if p.isIdent("GROUP") {
		p.advance()
		group, err := p.parseInputList()
		if err != nil {
			return InputSpec{}, err
		}
		return InputSpec{Group: group}, nil
	}
	name, err := p.identText()
	return InputSpec{Name: name}, err
}

func (p *parser) parseMemory() ([]MemoryRegion, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var regions []MemoryRegion
	for !p.isPunct("}") {
		name, err := p.identText()
		if err != nil {
			return nil, err
		}
		var attrs string
		if p.isPunct("(") {
			p.advance()
			start := p.tok
			for !p.isPunct(")") {
				attrs += p.tok.Text
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			p.advance()
			_ = start
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		r := MemoryRegion{Name: name, Attrs: attrs}
		for {
			if p.isIdent("ORIGIN") || p.isIdent("org") || p.isIdent("o") {
				p.advance()
				if err := p.expectPunct("="); err != nil {
					return nil, err
				}
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				r.Origin = e
			} else if p.isIdent("LENGTH") || p.isIdent("len") || p.isIdent("l") {
				p.advance()
				if err := p.expectPunct("="); err != nil {
					return nil, err
				}
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				r.Length = e
			} else {
				break
			}
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
		regions = append(regions, r)
		p.semiOpt()
	}
	return regions, p.advance()
}

func (p *parser) parsePhdrs() ([]Phdr, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var out []Phdr
	for !p.isPunct("}") {
		name, err := p.identText()
		if err != nil {
			return nil, err
		}
		typ, err := p.identText()
		if err != nil {
			return nil, err
		}
		ph := Phdr{Name: name, Type: typ}
		for !p.isPunct(";") {
			switch {
			case p.isIdent("FILEHDR"):
				ph.FileHdr = true
				p.advance()
			case p.isIdent("PHDRS"):
				ph.PhdrsHdr = true
				p.advance()
			case p.isIdent("FLAGS"):
				p.advance()
				if err := p.expectPunct("("); err != nil {
					return nil, err
				}
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				ph.Flags = e
				if err := p.expectPunct(")"); err != nil {
					return nil, err
				}
			case p.isIdent("AT"):
				p.advance()
				if err := p.expectPunct("("); err != nil {
					return nil, err
				}
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				ph.At = e
				if err := p.expectPunct(")"); err != nil {
					return nil, err
				}
			default:
				return nil, p.errf("unexpected token %q in PHDRS entry", p.tok.Text)
			}
		}
		out = append(out, ph)
		p.advance() // ';'
	}
	return out, p.advance()
}

func (p *parser) parseSections() (*SectionsCmd, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	cmd := &SectionsCmd{}
	for !p.isPunct("}") {
		if p.isPunct(".") {
			nt, err := p.peekNext()
			if err != nil {
				return nil, err
			}
			if nt.Kind == tokPunct && (nt.Text == "=" || nt.Text == "+=") {
				p.advance()
				op := p.tok.Text
				p.advance()
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				if op != "=" {
					e = &BinaryExpr{Op: "+", X: DotExpr{}, Y: e}
				}
				p.semiOpt()
				cmd.Items = append(cmd.Items, &Assign{Name: ".", Expr: e})
				continue
			}
		}
		if p.tok.Kind == tokIdent && !p.isOutputSectionStart() {
			a, err := p.parseAssignStmt()
			if err != nil {
				return nil, err
			}
			cmd.Items = append(cmd.Items, a)
			p.semiOpt()
			continue
		}
		desc, err := p.parseOutputSection()
		if err != nil {
			return nil, err
		}
		cmd.Items = append(cmd.Items, desc)
	}
	return cmd, p.advance()
}

// isOutputSectionStart distinguishes `name :` / `name ADDR :` output-section
// headers from `name = expr;` top-level assignments by lookahead: an
// assignment's next token is always an assignment operator.
func (p *parser) isOutputSectionStart() bool {
	nt, err := p.peekNext()
	if err != nil {
		return true
	}
	if nt.Kind == tokPunct {
		switch nt.Text {
		case "=", "+=", "-=", "*=", "/=", "&=", "|=", "<<=", ">>=":
			return false
		}
	}
	return true
}

func (p *parser) parseOutputSection() (*OutputSectionDesc, error) {
	desc := &OutputSectionDesc{}
	if p.isPunct("/") {
		// /DISCARD/; the trailing '/' may have been lexed as part of the
		// identifier (the lexer treats '/' as an identifier-continuation
		// byte for file-path section patterns like "foo/bar.o(.text)").
		p.advance()
		ident, err := p.identText()
		if err != nil {
			return nil, err
		}
		if !strings.HasSuffix(ident, "/") {
			if err := p.expectPunct("/"); err != nil {
				return nil, err
			}
		}
		desc.Discard = true
		desc.Name = "/DISCARD/"
	} else {
		name, err := p.identText()
		if err != nil {
			return nil, err
		}
		desc.Name = name
	}

	if !p.isPunct(":") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		desc.Address = e
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	if p.isIdent("NOLOAD") || p.tok.Kind == tokIdent && (p.tok.Text == "COPY" || p.tok.Text == "INFO" || p.tok.Text == "OVERLAY") {
		desc.Type = p.tok.Text
		p.advance()
	}
	if p.isIdent("AT") {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		desc.AtLMA = e
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	if p.isIdent("ALIGN") {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		desc.Align = e
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	if p.isIdent("SUBALIGN") {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		desc.SubAlign = e
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	if p.isIdent("NOLOAD") || p.tok.Kind == tokIdent && (p.tok.Text == "COPY" || p.tok.Text == "INFO" || p.tok.Text == "OVERLAY") {
		desc.Type = p.tok.Text
		p.advance()
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	for !p.isPunct("}") {
		item, err := p.parseOutputSectionItem()
		if err != nil {
			return nil, err
		}
		desc.Items = append(desc.Items, item)
	}
	p.advance() // '}'

trailers:
	for {
		switch {
		case p.isPunct(">"):
			p.advance()
			r, err := p.identText()
			if err != nil {
				return nil, err
			}
			desc.VMARegion = r
		case p.isIdent("AT"):
			// Bare "AT>region" placement directive; AT(lma) before the
			// section body was already consumed above.
			nt, err := p.peekNext()
			if err != nil {
				return nil, err
			}
			if nt.Kind != tokPunct || nt.Text != ">" {
				break trailers
			}
			p.advance()
			p.advance()
			r, err := p.identText()
			if err != nil {
				return nil, err
			}
			desc.LMARegion = r
		case p.isPunct(":"):
			p.advance()
			name, err := p.identText()
			if err != nil {
				return nil, err
			}
			desc.Phdrs = append(desc.Phdrs, name)
		case p.isPunct("="):
			p.advance()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			desc.Fill = e
		default:
			break trailers
		}
	}
	p.semiOpt()
	return desc, nil
}

func (p *parser) parseOutputSectionItem() (OutputSectionItem, error) {
	switch {
	case p.isPunct("."):
		nt, err := p.peekNext()
		if err != nil {
			return nil, err
		}
		if nt.Kind == tokPunct && (nt.Text == "=" || nt.Text == "+=") {
			p.advance()
			op := p.tok.Text
			p.advance()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			p.semiOpt()
			return &DotAssign{Op: op, Expr: e}, nil
		}
	case p.isIdent("FILL"):
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		p.semiOpt()
		return &FillCommand{Value: e}, nil
	case p.isIdent("BYTE") || p.isIdent("SHORT") || p.isIdent("LONG") || p.isIdent("QUAD"):
		width := map[string]int{"BYTE": 1, "SHORT": 2, "LONG": 4, "QUAD": 8}[strings.ToUpper(p.tok.Text)]
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		p.semiOpt()
		return &DataCommand{Width: width, Value: e}, nil
	case p.isIdent("PROVIDE") || p.isIdent("PROVIDE_HIDDEN") || p.isIdent("HIDDEN"):
		a, err := p.parseAssignStmt()
		if err != nil {
			return nil, err
		}
		p.semiOpt()
		return a, nil
	case p.tok.Kind == tokIdent:
		nt, err := p.peekNext()
		if err == nil && nt.Kind == tokPunct {
			switch nt.Text {
			case "=", "+=", "-=", "*=", "/=", "&=", "|=", "<<=", ">>=":
				a, err := p.parseAssignStmt()
				if err != nil {
					return nil, err
				}
				p.semiOpt()
				return a, nil
			}
		}
	}
	return p.parseInputSectionSpec()
}

func (p *parser) parseInputSectionSpec() (*InputSectionSpec, error) {
	spec := &InputSectionSpec{}
	if p.isIdent("KEEP") {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		inner, err := p.parseInputSectionSpec()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		inner.Keep = true
		p.semiOpt()
		return inner, nil
	}

	file, err := p.identText()
	if err != nil {
		return nil, err
	}
	spec.FilePattern = file

	if p.isPunct("(") {
		p.advance()
		for !p.isPunct(")") {
			if p.isIdent("EXCLUDE_FILE") {
				p.advance()
				if err := p.expectPunct("("); err != nil {
					return nil, err
				}
				for !p.isPunct(")") {
					n, err := p.identText()
					if err != nil {
						return nil, err
					}
					spec.ExcludeFiles = append(spec.ExcludeFiles, n)
				}
				p.advance()
				continue
			}
			sortKind, pat, err := p.parseMaybeSorted()
			if err != nil {
				return nil, err
			}
			if sortKind != SortNone {
				spec.Sort = sortKind
			}
			spec.SectionPatterns = append(spec.SectionPatterns, pat)
		}
		p.advance()
	}
	p.semiOpt()
	return spec, nil
}

// parseMaybeSorted parses one section-pattern token, peeling off
// SORT_BY_NAME(...)/SORT_BY_ALIGNMENT(...)/SORT_BY_INIT_PRIORITY(...)/SORT(...)
// wrappers (possibly nested one level deep).
func (p *parser) parseMaybeSorted() (SortKind, string, error) {
	name := strings.ToUpper(p.tok.Text)
	switch name {
	case "SORT", "SORT_BY_NAME", "SORT_BY_ALIGNMENT", "SORT_BY_INIT_PRIORITY":
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return SortNone, "", err
		}
		outerKind := map[string]SortKind{
			"SORT": SortByName, "SORT_BY_NAME": SortByName,
			"SORT_BY_ALIGNMENT": SortByAlignment, "SORT_BY_INIT_PRIORITY": SortByInitPriority,
		}[name]

		innerName := strings.ToUpper(p.tok.Text)
		if innerName == "SORT_BY_NAME" || innerName == "SORT_BY_ALIGNMENT" {
			innerKind, pat, err := p.parseMaybeSorted()
			if err != nil {
				return SortNone, "", err
			}
			if err := p.expectPunct(")"); err != nil {
				return SortNone, "", err
			}
			if outerKind == SortByName && innerKind == SortByAlignment {
				return SortByNameThenAlignment, pat, nil
			}
			if outerKind == SortByAlignment && innerKind == SortByName {
				return SortByAlignmentThenName, pat, nil
			}
			return outerKind, pat, nil
		}

		pat, err := p.identText()
		if err != nil {
			return SortNone, "", err
		}
		return outerKind, pat, p.expectPunct(")")
	default:
		pat, err := p.identText()
		return SortNone, pat, err
	}
}

// parseAssignStmt parses `NAME = expr`, `NAME += expr`, `PROVIDE(NAME =
// expr)`, `PROVIDE_HIDDEN(NAME = expr)`, or `HIDDEN(NAME = expr)` without
// consuming a trailing semicolon (callers call semiOpt themselves).
func (p *parser) parseAssignStmt() (*Assign, error) {
	provide, hidden := false, false
	switch {
	case p.isIdent("PROVIDE"):
		provide = true
		p.advance()
	case p.isIdent("PROVIDE_HIDDEN"):
		provide, hidden = true, true
		p.advance()
	case p.isIdent("HIDDEN"):
		hidden = true
		p.advance()
	}
	wrapped := provide || hidden
	if wrapped {
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
	}
	name, err := p.identText()
	if err != nil {
		return nil, err
	}
	op := p.tok.Text
	if p.tok.Kind != tokPunct {
		return nil, p.errf("expected assignment operator after %q", name)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	rhs, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if op != "=" {
		rhs = &BinaryExpr{Op: strings.TrimSuffix(op, "="), X: SymbolExpr{Name: name}, Y: rhs}
	}
	if wrapped {
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	return &Assign{Name: name, Expr: rhs, Provide: provide, Hidden: hidden}, nil
}

func (p *parser) parseVersion() (*VersionNode, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	v := &VersionNode{}
	for !p.isPunct("}") {
		tag := VersionTag{}
		if p.tok.Kind == tokIdent && !p.isPunct("{") {
			nt, err := p.peekNext()
			if err != nil {
				return nil, err
			}
			if nt.Kind == tokPunct && nt.Text == "{" {
				tag.Name, err = p.identText()
				if err != nil {
					return nil, err
				}
			}
		}
		if err := p.expectPunct("{"); err != nil {
			return nil, err
		}
		section := "global"
		for !p.isPunct("}") {
			if p.isIdent("global") {
				section = "global"
				p.advance()
				if err := p.expectPunct(":"); err != nil {
					return nil, err
				}
				continue
			}
			if p.isIdent("local") {
				section = "local"
				p.advance()
				if err := p.expectPunct(":"); err != nil {
					return nil, err
				}
				if p.isPunct("*") {
					tag.Local = append(tag.Local, "*")
					p.advance()
					p.semiOpt()
				}
				continue
			}
			pat := p.tok.Text
			if err := p.advance(); err != nil {
				return nil, err
			}
			if section == "local" {
				tag.Local = append(tag.Local, pat)
			} else {
				tag.Global = append(tag.Global, pat)
			}
			if p.isPunct(";") {
				p.advance()
			}
		}
		p.advance() // '}'
		if p.tok.Kind == tokIdent {
			for {
				n, err := p.identText()
				if err != nil {
					return nil, err
				}
				tag.Parents = append(tag.Parents, n)
				if p.isPunct(",") {
					p.advance()
					continue
				}
				break
			}
		}
		p.semiOpt()
		v.Tags = append(v.Tags, tag)
	}
	return v, p.advance()
}

// --- Expression parsing (precedence climbing) ---

var binPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, "<=": 7, ">": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

func (p *parser) parseExpr() (Expr, error) {
	return p.parseTernary()
}

func (p *parser) parseTernary() (Expr, error) {
	cond, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}
	if p.isPunct("?") {
		p.advance()
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		els, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &CondExpr{Cond: cond, Then: then, Else: els}, nil
	}
	return cond, nil
}

func (p *parser) parseBinary(minPrec int) (Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		if p.tok.Kind != tokPunct {
			return lhs, nil
		}
		prec, ok := binPrec[p.tok.Text]
		if !ok || prec < minPrec {
			return lhs, nil
		}
		op := p.tok.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		lhs = &BinaryExpr{Op: op, X: lhs, Y: rhs}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if p.tok.Kind == tokPunct && (p.tok.Text == "-" || p.tok.Text == "!" || p.tok.Text == "~") {
		op := p.tok.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op, X: x}, nil
	}
	return p.parsePrimary()
}

var builtinFuncs = map[string]bool{
	"ALIGN": true, "ADDR": true, "LOADADDR": true, "SIZEOF": true,
	"SIZEOF_HEADERS": true, "MAX": true, "MIN": true, "DEFINED": true,
	"ORIGIN": true, "LENGTH": true, "ABSOLUTE": true, "NEXT": true,
	"DATA_SEGMENT_ALIGN": true, "DATA_SEGMENT_RELRO_END": true,
	"DATA_SEGMENT_END": true, "CONSTANT": true,
}

func (p *parser) parsePrimary() (Expr, error) {
	switch {
	case p.isPunct("("):
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return e, p.expectPunct(")")

	case p.isPunct("."):
		p.advance()
		return DotExpr{}, nil

	case p.tok.Kind == tokNumber:
		v, err := parseNumberLiteral(p.tok.Text)
		if err != nil {
			return nil, err
		}
		return NumberExpr{Value: v}, p.advance()

	case p.tok.Kind == tokIdent && builtinFuncs[strings.ToUpper(p.tok.Text)]:
		fn := strings.ToUpper(p.tok.Text)
		p.advance()
		if fn == "SIZEOF_HEADERS" {
			return &CallExpr{Func: fn}, nil
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		var args []Expr
		for !p.isPunct(")") {
			// ADDR/LOADADDR/SIZEOF/ORIGIN/LENGTH/DEFINED take a bare
			// name, not a general expression (the name may collide with
			// operators like section names containing '.').
			if (fn == "ADDR" || fn == "LOADADDR" || fn == "SIZEOF" || fn == "ORIGIN" || fn == "LENGTH" || fn == "DEFINED") && p.tok.Kind == tokIdent {
				nt, _ := p.peekNext()
				if nt.Kind == tokPunct && nt.Text == ")" {
					args = append(args, NameArgExpr{Name: p.tok.Text})
					p.advance()
					continue
				}
			}
			if fn == "CONSTANT" && p.tok.Kind == tokIdent {
				args = append(args, NameArgExpr{Name: p.tok.Text})
				p.advance()
				continue
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, e)
			if p.isPunct(",") {
				p.advance()
			}
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &CallExpr{Func: fn, Args: args}, nil

	case p.tok.Kind == tokIdent:
		name := p.tok.Text
		return SymbolExpr{Name: name}, p.advance()

	default:
		return nil, p.errf("unexpected token %q in expression", p.tok.Text)
	}
}

func parseNumberLiteral(text string) (uint64, error) {
	mult := uint64(1)
	suffix := text[len(text)-1]
	switch suffix {
	case 'K', 'k':
		mult = 1024
		text = text[:len(text)-1]
	case 'M', 'm':
		mult = 1024 * 1024
		text = text[:len(text)-1]
	}
	base := 10
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		base = 16
		text = text[2:]
	}
	v, err := strconv.ParseUint(text, base, 64)
	if err != nil {
		return 0, fmt.Errorf("linkerscript: bad numeric literal %q: %w", text, err)
	}
	return v * mult, nil
}
