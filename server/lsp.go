package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/ski/compiler"
	"github.com/chazu/ski/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "ski-lsp"

var lspLog = commonlog.GetLogger("ski.lsp")

// LspServer offers diagnostics, normal-form hovers and formatting for
// combinator programs. All parsing and reduction runs on a StoreWorker.
type LspServer struct {
	worker   *StoreWorker
	maxSteps int

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. The heap, step and style options are the
// ones accepted by New; hovers always run with a step bound.
func NewLSP(opts ...ServerOption) *LspServer {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxSteps <= 0 {
		cfg.maxSteps = defaultHoverSteps
	}

	s := &LspServer{
		worker:   NewStoreWorker(cfg.storeOpts...),
		maxSteps: cfg.maxSteps,
		docs:     make(map[string]string),
		version:  "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentHover:      s.textDocumentHover,
		TextDocumentFormatting: s.textDocumentFormatting,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// defaultHoverSteps bounds hover reductions when no limit is configured.
const defaultHoverSteps = 1000

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("ski LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.HoverProvider = true
	capabilities.DocumentFormattingProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	result, err := s.worker.Do(func(st *vm.Store) (interface{}, error) {
		return hover(st, text, params.Position, s.maxSteps), nil
	})
	if err != nil {
		lspLog.Debugf("hover: %s", err)
		return nil, nil
	}
	return result.(*protocol.Hover), nil
}

func (s *LspServer) textDocumentFormatting(ctx *glsp.Context, params *protocol.DocumentFormattingParams) ([]protocol.TextEdit, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	result, err := s.worker.Do(func(st *vm.Store) (interface{}, error) {
		return formatDocument(st, text), nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]protocol.TextEdit), nil
}

// hover reduces the whole document and describes its normal form. The
// combinator under the cursor, if any, is explained first. Returns nil for
// a document that does not parse.
func hover(st *vm.Store, text string, pos protocol.Position, maxSteps int) *protocol.Hover {
	if _, err := compiler.Parse(st, text); err != nil {
		return nil
	}
	res, err := vm.Run(context.Background(), st, vm.RunOptions{MaxSteps: maxSteps})
	if err != nil {
		return &protocol.Hover{Contents: markdown(fmt.Sprintf("reduction failed: %s", err))}
	}

	var b strings.Builder
	if doc := combinatorDoc(extractAtom(text, pos)); doc != "" {
		b.WriteString(doc)
		b.WriteString("\n\n---\n\n")
	}

	if res.Truncated {
		fmt.Fprintf(&b, "**No normal form after %d steps**, last form:\n\n", res.Steps)
	} else {
		fmt.Fprintf(&b, "**Normal form** after %d steps", res.Steps)
		if counts := ruleCounts(res.Rules); counts != "" {
			fmt.Fprintf(&b, " (%s)", counts)
		}
		b.WriteString(":\n\n")
	}
	fmt.Fprintf(&b, "```\n%s\n```", res.NormalForm)

	return &protocol.Hover{Contents: markdown(b.String())}
}

// formatDocument reprints a well-formed document in spaced style. It
// returns no edits for a malformed or already formatted document.
func formatDocument(st *vm.Store, text string) []protocol.TextEdit {
	root, err := compiler.Parse(st, text)
	if err != nil {
		return []protocol.TextEdit{}
	}
	formatted := vm.Format(st, root, vm.StyleSpaced) + "\n"
	if formatted == text {
		return []protocol.TextEdit{}
	}
	return []protocol.TextEdit{{
		Range: protocol.Range{
			Start: protocol.Position{Line: 0, Character: 0},
			End:   documentEnd(text),
		},
		NewText: formatted,
	}}
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	result, err := s.worker.Do(func(st *vm.Store) (interface{}, error) {
		return diagnose(st, text), nil
	})
	if err != nil {
		lspLog.Errorf("diagnostics for %s: %s", uri, err)
		return
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: result.([]protocol.Diagnostic),
	})
}

// diagnose parses text and reports the first problem, spanning the
// offending token.
func diagnose(st *vm.Store, text string) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}

	_, err := compiler.Parse(st, text)
	if err == nil {
		return diagnostics
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	d := protocol.Diagnostic{
		Severity: &severity,
		Source:   &source,
		Message:  err.Error(),
	}

	var perr *compiler.ParseError
	if errors.As(err, &perr) {
		start := toProtocolPosition(text, perr.Pos.Offset)
		end := toProtocolPosition(text, perr.Pos.Offset+tokenWidth(text, perr.Token))
		d.Range = protocol.Range{Start: start, End: end}
		d.Message = perr.Msg
	}
	return append(diagnostics, d)
}

// --- Text helpers ---

// toProtocolPosition converts a byte offset into an LSP position, counting
// characters in UTF-16 code units.
func toProtocolPosition(text string, offset int) protocol.Position {
	if offset > len(text) {
		offset = len(text)
	}
	lineStart := strings.LastIndexByte(text[:offset], '\n') + 1
	line := strings.Count(text[:lineStart], "\n")

	var col int
	for _, r := range text[lineStart:offset] {
		col += utf16.RuneLen(r)
	}
	return protocol.Position{
		Line:      protocol.UInteger(line),
		Character: protocol.UInteger(col),
	}
}

// tokenWidth returns the number of source bytes tok covers. Error tokens
// carry a message rather than source text and cover one character.
func tokenWidth(text string, tok compiler.Token) int {
	if tok.Type != compiler.TokenError {
		return len(tok.Literal)
	}
	_, n := utf8.DecodeRuneInString(text[tok.Pos.Offset:])
	return n
}

// documentEnd returns the position just past the last character.
func documentEnd(text string) protocol.Position {
	return toProtocolPosition(text, len(text))
}

// extractAtom returns the single-character atom under the cursor, or the
// empty string if the cursor is on whitespace, a bracket or a number.
func extractAtom(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]

	var units int
	for i, r := range line {
		n := utf16.RuneLen(r)
		if int(pos.Character) < units+n {
			toks := compiler.Tokenize(line[i : i+utf8.RuneLen(r)])
			if toks[0].Type == compiler.TokenAtom {
				return toks[0].Literal
			}
			return ""
		}
		units += n
	}
	return ""
}

// combinatorDoc describes the rewrite rule of a combinator atom.
func combinatorDoc(atom string) string {
	switch strings.ToUpper(atom) {
	case "S":
		return "**S** x y z → x z (y z)"
	case "K":
		return "**K** x y → x"
	case "I":
		return "**I** x → x"
	}
	return ""
}

// ruleCounts renders rule firing counts as "S×2 K×1".
func ruleCounts(rules map[vm.Rule]int) string {
	keys := make([]vm.Rule, 0, len(rules))
	for r := range rules {
		keys = append(keys, r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	parts := make([]string, 0, len(keys))
	for _, r := range keys {
		parts = append(parts, fmt.Sprintf("%s×%d", r, rules[r]))
	}
	return strings.Join(parts, " ")
}

func markdown(value string) protocol.MarkupContent {
	return protocol.MarkupContent{
		Kind:  protocol.MarkupKindMarkdown,
		Value: value,
	}
}

func boolPtr(b bool) *bool {
	return &b
}
