package gctf

import (
	"strings"
	"time"

	"github.com/grpctestify/grpctestify/internal/diagnostics"
	"github.com/grpctestify/grpctestify/internal/extract"
)

var knownSectionTypes = map[string]SectionType{
	"ADDRESS":         SectionAddress,
	"ENDPOINT":        SectionEndpoint,
	"REQUEST":         SectionRequest,
	"RESPONSE":        SectionResponse,
	"ERROR":           SectionError,
	"EXTRACT":         SectionExtract,
	"ASSERTS":         SectionAsserts,
	"REQUEST_HEADERS": SectionRequestHeaders,
	"TLS":             SectionTLS,
	"PROTO":           SectionProto,
	"OPTIONS":         SectionOptions,
}

// Parse decodes the given .gctf source into a Document and a collection of
// diagnostics. Structural errors do not abort parsing: the document is
// returned partially populated so callers (the LSP façade, `check`-style
// commands) can report every problem found in one pass.
func Parse(src []byte, path string) (*Document, *diagnostics.Collection) {
	diags := &diagnostics.Collection{}
	doc := &Document{
		Metadata: Metadata{SourcePath: path, ParsedAt: time.Now()},
	}

	text := strings.ReplaceAll(string(src), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	for _, block := range splitBlocks(text) {
		sectionType, ok := knownSectionTypes[block.header.name]
		if !ok {
			diags.AddBuilder(diagnostics.Warnf(diagnostics.CodeUnknownSectionType,
				"unknown section type %q", block.header.name).AtLine(block.header.lineNo))
			sectionType = SectionOther
		}
		opts := parseInlineOptions(block.header.optsRaw, sectionType, func(key string) {
			diags.AddBuilder(diagnostics.Warnf(diagnostics.CodeUnknownSectionOption,
				"unknown inline option %q on %s section", key, block.header.name).AtLine(block.header.lineNo))
		})
		rawText := strings.Join(block.lines, "\n")
		section := Section{
			Type:          sectionType,
			RawTypeName:   block.header.name,
			InlineOptions: opts,
			RawText:       rawText,
			LineRange:     LineRange{Start: block.header.lineNo, End: block.endLine},
		}

		switch sectionType {
		case SectionRequest, SectionResponse, SectionError:
			if strings.TrimSpace(rawText) != "" {
				v, err := ParseJSON5(rawText)
				if err != nil {
					if je, ok := err.(*Json5Error); ok {
						diags.AddBuilder(diagnostics.Errorf(diagnostics.CodeJson5ParseError,
							"%s", je.Msg).At(block.startLine+je.Line-1, je.Col, je.Col))
					} else {
						diags.AddBuilder(diagnostics.Errorf(diagnostics.CodeJson5ParseError,
							"%s", err.Error()).AtLine(block.startLine))
					}
				} else {
					section.JSON = v
				}
			}
		case SectionExtract:
			section.Extracts = parseExtractLines(block, diags)
		case SectionAsserts:
			section.AssertLines = parseAssertLines(block)
		case SectionRequestHeaders, SectionTLS, SectionOptions:
			section.Headers = parseHeaderLines(block.lines)
		default:
			section.TextLines = block.lines
		}

		doc.Sections = append(doc.Sections, section)
	}

	doc.ValidateInvariants(diags)
	return doc, diags
}

func parseExtractLines(block rawBlock, diags *diagnostics.Collection) []ExtractBinding {
	var out []ExtractBinding
	for i, ln := range block.lines {
		t := trimSpace(ln)
		if t == "" || isComment(t) {
			continue
		}
		b, err := extract.ParseBinding(t)
		if err != nil {
			diags.AddBuilder(diagnostics.Errorf(diagnostics.CodeJson5ParseError,
				"invalid extract binding: %v", err).AtLine(block.startLine + i))
			continue
		}
		out = append(out, ExtractBinding{Name: b.Name, Value: b.Value, Line: block.startLine + i})
	}
	return out
}

func parseAssertLines(block rawBlock) []AssertLine {
	var out []AssertLine
	for i, ln := range block.lines {
		t := trimSpace(ln)
		if t == "" || isComment(t) {
			continue
		}
		out = append(out, AssertLine{Expr: t, Line: block.startLine + i})
	}
	return out
}

func parseHeaderLines(lines []string) *HeaderMap {
	hm := NewHeaderMap()
	for _, ln := range lines {
		t := trimSpace(ln)
		if t == "" || isComment(t) {
			continue
		}
		colon := strings.IndexByte(t, ':')
		if colon < 0 {
			continue
		}
		key := strings.TrimSpace(t[:colon])
		val := strings.TrimSpace(t[colon+1:])
		hm.Set(key, val)
	}
	return hm
}
