package synctex

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// spPerBP is the number of TeX scaled points in one big point.
const spPerBP = 65781.76

type section uint8

const (
	sectionPreamble section = iota
	sectionContent
	sectionPostamble
)

// Parse reads decompressed SyncTeX text and builds its index.
func Parse(r io.Reader) (*Index, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read synctex: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes builds an index from decompressed SyncTeX text. Identical
// input always yields an identical index.
func ParseBytes(data []byte) (*Index, error) {
	p := &parser{
		ix: &Index{
			Header: Header{Magnification: 1000, Unit: 1},
			Pages:  make(map[int]*Page),
		},
		files: make(map[int]*SourceFile),
	}
	for len(data) > 0 || p.line == 0 {
		var raw []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			raw, data = data[:i], data[i+1:]
		} else {
			raw, data = data, nil
		}
		p.line++
		if err := p.handle(strings.TrimSuffix(string(raw), "\r")); err != nil {
			return nil, err
		}
		p.offset += len(raw) + 1
	}
	return p.finish()
}

type rawBlock struct {
	kind   Kind
	level  int
	file   *SourceFile
	line   int
	left   int64
	bottom int64
	width  int64
	height int64
}

// frame is an open box; its height and depth give enclosed point records
// their vertical extent.
type frame struct {
	kind   Kind
	height int64
	depth  int64
}

type parser struct {
	ix      *Index
	files   map[int]*SourceFile
	section section

	page   int // open page number, 0 when none
	blocks []rawBlock
	stack  []frame
	forms  int

	raw   map[int][]rawBlock
	order []int

	line   int
	offset int
}

func (p *parser) fail(format string, args ...any) *ParseError {
	return &ParseError{
		Offset: p.offset,
		Line:   p.line,
		Page:   p.page,
		Msg:    fmt.Sprintf(format, args...),
	}
}

func (p *parser) handle(s string) error {
	if p.line == 1 {
		v, ok := strings.CutPrefix(s, "SyncTeX Version:")
		if !ok {
			return p.fail("missing SyncTeX Version header")
		}
		n, err := p.num(v)
		if err != nil {
			return err
		}
		p.ix.Header.Version = n
		return nil
	}
	switch p.section {
	case sectionPreamble:
		return p.preamble(s)
	case sectionContent:
		return p.content(s)
	default:
		return p.postamble(s)
	}
}

func (p *parser) preamble(s string) error {
	if s == "Content:" {
		p.section = sectionContent
		return nil
	}
	if rest, ok := strings.CutPrefix(s, "Input:"); ok {
		return p.input(rest)
	}
	if rest, ok := strings.CutPrefix(s, "Output:"); ok {
		p.ix.Header.Output = rest
		return nil
	}
	return p.setting(s)
}

// setting applies the keys shared by the preamble and the post scriptum.
func (p *parser) setting(s string) error {
	key, val, ok := strings.Cut(s, ":")
	if !ok {
		return nil
	}
	switch key {
	case "Magnification", "Unit":
		n, err := p.num(val)
		if err != nil {
			return err
		}
		if n <= 0 {
			return p.fail("%s must be positive, got %d", key, n)
		}
		if key == "Unit" {
			p.ix.Header.Unit = n
		} else {
			p.ix.Header.Magnification = n
		}
	case "X Offset", "Y Offset":
		n, err := p.dimension(val)
		if err != nil {
			// Post scriptum overrides are advisory; a value we cannot
			// read leaves the preamble offset in place.
			if p.section == sectionPostamble {
				return nil
			}
			return err
		}
		if key == "X Offset" {
			p.ix.Header.XOffset = n
		} else {
			p.ix.Header.YOffset = n
		}
	}
	return nil
}

func (p *parser) postamble(s string) error {
	return p.setting(s)
}

func (p *parser) input(rest string) error {
	idText, filePath, ok := strings.Cut(rest, ":")
	if !ok || filePath == "" {
		return p.fail("malformed Input record %q", rest)
	}
	id, err := p.num(idText)
	if err != nil {
		return err
	}
	f := NewSourceFile(id, filePath)
	p.files[id] = f
	p.ix.Files = append(p.ix.Files, f)
	return nil
}

func (p *parser) content(s string) error {
	if s == "" {
		return nil
	}
	if rest, ok := strings.CutPrefix(s, "Input:"); ok {
		return p.input(rest)
	}
	if s == "Postamble:" {
		if p.page != 0 {
			return p.fail("postamble while page %d is open", p.page)
		}
		p.section = sectionPostamble
		return nil
	}

	tag, body := s[0], s[1:]
	switch tag {
	case '!':
		return nil
	case '{':
		return p.openPage(body)
	case '}':
		return p.closePage(body)
	case '<':
		p.forms++
		return nil
	case '>':
		if p.forms == 0 {
			return p.fail("form close without open form")
		}
		p.forms--
		return nil
	}
	if p.forms > 0 {
		return nil
	}

	switch tag {
	case '[':
		return p.openBox(KindVBox, body)
	case '(':
		return p.openBox(KindHBox, body)
	case ']':
		return p.closeBox(KindVBox)
	case ')':
		return p.closeBox(KindHBox)
	case 'v':
		return p.sized(KindVoidVBox, body)
	case 'h':
		return p.sized(KindVoidHBox, body)
	case 'r':
		return p.sized(KindRule, body)
	case 'k':
		return p.point(KindKern, body, true)
	case 'g':
		return p.point(KindGlue, body, false)
	case '$':
		return p.point(KindMath, body, false)
	case 'x':
		return p.point(KindCurrent, body, false)
	}
	// f (form reference) and record types this parser does not know.
	return nil
}

func (p *parser) openPage(body string) error {
	n, err := p.num(body)
	if err != nil {
		return err
	}
	if n <= 0 {
		return p.fail("invalid page number %d", n)
	}
	if p.page != 0 {
		return p.fail("page %d opened inside page %d", n, p.page)
	}
	p.page = n
	p.blocks = nil
	p.stack = p.stack[:0]
	return nil
}

func (p *parser) closePage(body string) error {
	n, err := p.num(body)
	if err != nil {
		return err
	}
	if p.page == 0 {
		return p.fail("close of page %d without open page", n)
	}
	if n != p.page {
		return p.fail("close of page %d while page %d is open", n, p.page)
	}
	if len(p.stack) > 0 {
		return p.fail("page %d closed with %d open boxes", n, len(p.stack))
	}
	if p.raw == nil {
		p.raw = make(map[int][]rawBlock)
	}
	if _, seen := p.raw[n]; !seen {
		p.order = append(p.order, n)
	}
	p.raw[n] = append(p.raw[n], p.blocks...)
	if p.raw[n] == nil {
		p.raw[n] = []rawBlock{}
	}
	p.page = 0
	p.blocks = nil
	return nil
}

func (p *parser) openBox(kind Kind, body string) error {
	b, h, d, err := p.box(kind, body)
	if err != nil {
		return err
	}
	p.blocks = append(p.blocks, b)
	p.stack = append(p.stack, frame{kind: kind, height: h, depth: d})
	return nil
}

func (p *parser) closeBox(kind Kind) error {
	if p.page == 0 {
		return p.fail("box close outside a page")
	}
	if len(p.stack) == 0 {
		return p.fail("%s close without open box", kind)
	}
	top := p.stack[len(p.stack)-1]
	if top.kind != kind {
		return p.fail("%s close while %s is open", kind, top.kind)
	}
	p.stack = p.stack[:len(p.stack)-1]
	return nil
}

func (p *parser) sized(kind Kind, body string) error {
	b, _, _, err := p.box(kind, body)
	if err != nil {
		return err
	}
	p.blocks = append(p.blocks, b)
	return nil
}

// box parses "[file,line:]h,v:W,H,D". The rectangle spans from the top of
// the box (v-H) down to the bottom of its depth (v+D).
func (p *parser) box(kind Kind, body string) (rawBlock, int64, int64, error) {
	if p.page == 0 {
		return rawBlock{}, 0, 0, p.fail("%s record outside a page", kind)
	}
	parts := strings.Split(body, ":")
	b := rawBlock{kind: kind, level: len(p.stack)}
	if len(parts) == 3 {
		if err := p.tag(&b, parts[0]); err != nil {
			return rawBlock{}, 0, 0, err
		}
		parts = parts[1:]
	}
	if len(parts) != 2 {
		return rawBlock{}, 0, 0, p.fail("malformed %s record %q", kind, body)
	}
	pos, err := p.ints(parts[0], 2)
	if err != nil {
		return rawBlock{}, 0, 0, err
	}
	size, err := p.ints(parts[1], 3)
	if err != nil {
		return rawBlock{}, 0, 0, err
	}
	w, h, d := size[0], size[1], size[2]
	b.left, b.width = normalize(pos[0], w)
	b.bottom, b.height = normalize(pos[1]-h, h+d)
	return b, h, d, nil
}

// point parses "file,line:h,v[:W]" or a bare untagged "h,v". A body with
// more than one field always starts with its tag, so "1,10:100" is a tagged
// record missing its position, not an untagged point with a width. The
// vertical extent comes from the innermost open box; without one the block
// is a zero-height mark.
func (p *parser) point(kind Kind, body string, needWidth bool) error {
	if p.page == 0 {
		return p.fail("%s record outside a page", kind)
	}
	parts := strings.Split(body, ":")
	b := rawBlock{kind: kind, level: len(p.stack)}
	if len(parts) > 1 {
		if err := p.tag(&b, parts[0]); err != nil {
			return err
		}
		parts = parts[1:]
	}
	switch {
	case len(parts) == 1 && !needWidth:
	case len(parts) == 2:
	default:
		return p.fail("malformed %s record %q", kind, body)
	}
	pos, err := p.ints(parts[0], 2)
	if err != nil {
		return err
	}
	var w int64
	if len(parts) == 2 {
		if w, err = p.num64(parts[1]); err != nil {
			return err
		}
	}
	b.left, b.width = normalize(pos[0], w)
	b.bottom = pos[1]
	if len(p.stack) > 0 {
		top := p.stack[len(p.stack)-1]
		b.bottom, b.height = normalize(pos[1]-top.height, top.height+top.depth)
	}
	p.blocks = append(p.blocks, b)
	return nil
}

// tag parses "file,line". Undeclared file ids and line 0 stay unknown.
func (p *parser) tag(b *rawBlock, s string) error {
	v, err := p.ints(s, 2)
	if err != nil {
		return err
	}
	id, err := safecast.Conv[int](v[0])
	if err != nil {
		return p.fail("file id %d out of range", v[0])
	}
	line, err := safecast.Conv[int](v[1])
	if err != nil || line < 0 {
		return p.fail("invalid line number %d", v[1])
	}
	b.file = p.files[id]
	b.line = line
	return nil
}

func (p *parser) ints(s string, n int) ([]int64, error) {
	fields := strings.Split(s, ",")
	if len(fields) != n {
		return nil, p.fail("expected %d comma-separated values, got %q", n, s)
	}
	out := make([]int64, n)
	for i, f := range fields {
		v, err := p.num64(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *parser) num64(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, p.fail("invalid number %q", s)
	}
	return v, nil
}

// spPerUnit converts TeX dimension units to scaled points.
var spPerUnit = map[string]float64{
	"sp": 1,
	"pt": 65536,
	"bp": 65536 * 72.27 / 72,
	"in": 65536 * 72.27,
	"cm": 65536 * 72.27 / 2.54,
	"mm": 65536 * 72.27 / 25.4,
	"pc": 65536 * 12,
	"dd": 65536 * 1238 / 1157,
	"cc": 65536 * 12 * 1238 / 1157,
	"nd": 65536 * 685 / 642,
	"nc": 65536 * 12 * 685 / 642,
}

// dimension reads an offset: a plain integer in scaled points, or a
// decimal number followed by a TeX unit such as "1in" or "-2.5pt".
func (p *parser) dimension(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	if len(s) < 3 {
		return 0, p.fail("invalid dimension %q", s)
	}
	num, unit := s[:len(s)-2], strings.ToLower(s[len(s)-2:])
	scale, ok := spPerUnit[unit]
	if !ok {
		return 0, p.fail("invalid dimension %q", s)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, p.fail("invalid dimension %q", s)
	}
	v, err := safecast.Round[int64](f * scale)
	if err != nil {
		return 0, p.fail("dimension %q out of range", s)
	}
	return v, nil
}

func (p *parser) num(s string) (int, error) {
	v, err := p.num64(s)
	if err != nil {
		return 0, err
	}
	n, err := safecast.Conv[int](v)
	if err != nil {
		return 0, p.fail("number %d out of range", v)
	}
	return n, nil
}

func (p *parser) finish() (*Index, error) {
	if p.section == sectionPreamble {
		return nil, p.fail("missing Content section")
	}
	if p.page != 0 {
		return nil, p.fail("truncated: page %d not closed", p.page)
	}
	if p.forms > 0 {
		return nil, p.fail("truncated: %d forms not closed", p.forms)
	}

	hdr := p.ix.Header
	unit := float64(hdr.Unit) / spPerBP
	scale := unit * float64(hdr.Magnification) / 1000
	xOff := float64(hdr.XOffset) * unit
	yOff := float64(hdr.YOffset) * unit

	for _, n := range p.order {
		raw := p.raw[n]
		page := &Page{Number: n, Blocks: make([]Block, len(raw))}
		for i, r := range raw {
			page.Blocks[i] = Block{
				Kind:   r.kind,
				Level:  r.level,
				File:   r.file,
				Line:   r.line,
				Left:   float64(r.left)*scale + xOff,
				Bottom: float64(r.bottom)*scale + yOff,
				Width:  float64(r.width) * scale,
				Height: float64(r.height) * scale,
			}
		}
		p.ix.Pages[n] = page
	}
	return p.ix, nil
}

// normalize turns an origin and signed extent into an origin and a
// non-negative extent covering the same interval.
func normalize(origin, extent int64) (int64, int64) {
	if extent < 0 {
		return origin + extent, -extent
	}
	return origin, extent
}
