package synctex

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/dgallion1/texsync/internal/synctex/synctextest"
)

const sampleSyncTeX = `SyncTeX Version:1
Input:1:/work/./main.tex
Input:2:/work/chapter.tex
Output:pdf
Magnification:1000
Unit:1
X Offset:0
Y Offset:0
Content:
!123
{1
[1,10:4736286,24736286:30000000,20000000,0
(1,12:4736286,6000000:30000000,650000,200000
x1,12:4736286,6000000
k1,12:5000000,6000000:-100000
g2,3:5200000,6000000
$1,0:5300000,6000000
)
v0,0:4736286,8000000:0,100000,0
]
}1
!456
{2
}2
Postamble:
Count:8
!789
Post scriptum:
`

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}

func TestParseBytes_SampleStructure(t *testing.T) {
	ix, err := ParseBytes([]byte(sampleSyncTeX))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ix.Header.Version != 1 {
		t.Errorf("expected version 1, got %d", ix.Header.Version)
	}
	if ix.Header.Output != "pdf" {
		t.Errorf("expected output %q, got %q", "pdf", ix.Header.Output)
	}
	if len(ix.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(ix.Files))
	}
	if ix.Files[1].Name != "chapter.tex" {
		t.Errorf("expected base name %q, got %q", "chapter.tex", ix.Files[1].Name)
	}

	p1, ok := ix.Page(1)
	if !ok {
		t.Fatal("expected page 1")
	}
	wantKinds := []Kind{KindVBox, KindHBox, KindCurrent, KindKern, KindGlue, KindMath, KindVoidVBox}
	if len(p1.Blocks) != len(wantKinds) {
		t.Fatalf("expected %d blocks, got %d", len(wantKinds), len(p1.Blocks))
	}
	for i, k := range wantKinds {
		if p1.Blocks[i].Kind != k {
			t.Errorf("block[%d]: expected kind %s, got %s", i, k, p1.Blocks[i].Kind)
		}
	}

	wantLevels := []int{0, 1, 2, 2, 2, 2, 1}
	for i, l := range wantLevels {
		if p1.Blocks[i].Level != l {
			t.Errorf("block[%d]: expected level %d, got %d", i, l, p1.Blocks[i].Level)
		}
	}

	if p1.Blocks[0].File != p1.Blocks[1].File {
		t.Error("expected blocks from the same input to share one SourceFile")
	}
	if p1.Blocks[4].File != ix.Files[1] {
		t.Error("expected glue block to reference chapter.tex")
	}
	if p1.Blocks[5].Line != 0 || p1.Blocks[5].File == nil {
		t.Errorf("expected math block with known file and unknown line, got file=%v line=%d", p1.Blocks[5].File, p1.Blocks[5].Line)
	}
	if p1.Blocks[6].File != nil || p1.Blocks[6].Line != 0 {
		t.Error("expected undeclared file id to stay unknown")
	}

	if !approx(p1.Blocks[0].Left, 72) {
		t.Errorf("expected vbox left 72bp, got %f", p1.Blocks[0].Left)
	}
	if !approx(p1.Blocks[0].Bottom, 72) {
		t.Errorf("expected vbox top edge 72bp, got %f", p1.Blocks[0].Bottom)
	}

	if p1.Blocks[2].Width != 0 {
		t.Errorf("expected zero-width current point, got %f", p1.Blocks[2].Width)
	}
	hbox := p1.Blocks[1]
	if !approx(p1.Blocks[2].Bottom, hbox.Bottom) || !approx(p1.Blocks[2].Height, hbox.Height) {
		t.Error("expected point record to take its vertical extent from the enclosing hbox")
	}

	kern := p1.Blocks[3]
	if kern.Width <= 0 {
		t.Fatalf("expected negative kern to be normalised, got width %f", kern.Width)
	}
	if !approx(kern.Left+kern.Width, 5000000/synctextest.SpPerBP) {
		t.Errorf("expected normalised kern to end at its origin, got %f", kern.Left+kern.Width)
	}

	if p1.Blocks[6].Width != 0 {
		t.Errorf("expected zero-width void box, got %f", p1.Blocks[6].Width)
	}

	p2, ok := ix.Page(2)
	if !ok {
		t.Fatal("expected empty page 2 to be indexed")
	}
	if len(p2.Blocks) != 0 {
		t.Errorf("expected 0 blocks on page 2, got %d", len(p2.Blocks))
	}
}

func TestParseBytes_Deterministic(t *testing.T) {
	a, err := ParseBytes([]byte(sampleSyncTeX))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := ParseBytes([]byte(sampleSyncTeX))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("expected identical indices for identical input")
	}
}

func TestParse_Reader(t *testing.T) {
	ix, err := Parse(strings.NewReader(sampleSyncTeX))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ix.Pages) != 2 {
		t.Errorf("expected 2 pages, got %d", len(ix.Pages))
	}
}

func TestParseBytes_CRLF(t *testing.T) {
	text := strings.ReplaceAll(sampleSyncTeX, "\n", "\r\n")
	ix, err := ParseBytes([]byte(text))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ix.Files[0].Path != "/work/./main.tex" {
		t.Errorf("expected carriage return stripped from path, got %q", ix.Files[0].Path)
	}
}

func TestParseBytes_MagnificationAndUnit(t *testing.T) {
	text := "SyncTeX Version:1\nInput:1:a.tex\nMagnification:2000\nUnit:2\nContent:\n{1\nh1,1:65782,0:65782,65782,0\n}1\n"
	ix, err := ParseBytes([]byte(text))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := ix.Pages[1].Blocks[0]
	// 65782sp is ~1bp; unit 2 and magnification 2x make it ~4bp.
	if !approx(b.Left, 4) || !approx(b.Width, 4) {
		t.Errorf("expected left=width=4bp, got left=%f width=%f", b.Left, b.Width)
	}
}

func TestParseBytes_PostScriptumOverrides(t *testing.T) {
	text := "SyncTeX Version:1\nInput:1:a.tex\nContent:\n{1\nh1,1:65782,0:65782,65782,0\n}1\nPostamble:\nCount:1\nPost scriptum:\nMagnification:500\n"
	ix, err := ParseBytes([]byte(text))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ix.Header.Magnification != 500 {
		t.Fatalf("expected magnification 500, got %d", ix.Header.Magnification)
	}
	if b := ix.Pages[1].Blocks[0]; !approx(b.Left, 0.5) {
		t.Errorf("expected post scriptum magnification to apply, got left=%f", b.Left)
	}
}

func TestParseBytes_OffsetsWithUnits(t *testing.T) {
	text := "SyncTeX Version:1\nInput:1:a.tex\nX Offset:0\nY Offset:0\nContent:\n{1\nh1,1:65782,0:65782,65782,0\n}1\n" +
		"Postamble:\nCount:1\nPost scriptum:\nX Offset:1in\nY Offset:two inches\n"
	ix, err := ParseBytes([]byte(text))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := ix.Pages[1].Blocks[0]
	if !approx(b.Left, 73) {
		t.Errorf("expected a 1in offset to shift left to 73bp, got %f", b.Left)
	}
	if ix.Header.YOffset != 0 {
		t.Errorf("expected unreadable override to be ignored, got %d", ix.Header.YOffset)
	}
}

func TestParser_Dimension(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"-120", -120},
		{"1pt", 65536},
		{"72.27pt", 4736287},
		{"1in", 4736287},
		{"-2.5pt", -163840},
		{"1 pt", 65536},
		{"10sp", 10},
	}
	p := &parser{}
	for _, tt := range tests {
		got, err := p.dimension(tt.in)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: expected %d, got %d", tt.in, tt.want, got)
		}
	}
	for _, bad := range []string{"", "in", "1xx", "abcpt", "1e999pt"} {
		if _, err := p.dimension(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestParseBytes_UntaggedRecords(t *testing.T) {
	text := "SyncTeX Version:1\nContent:\n{1\nh0,0:100,100,0\nx5,5\ng0,0:5,5:7\n}1\n"
	ix, err := ParseBytes([]byte(text))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blocks := ix.Pages[1].Blocks
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	for i, b := range blocks {
		if b.File != nil || b.Line != 0 {
			t.Errorf("block[%d]: expected unknown file and line", i)
		}
	}
	if blocks[2].Width == 0 {
		t.Error("expected trailing width on glue record")
	}
}

func TestParseBytes_FormsAreSkipped(t *testing.T) {
	text := "SyncTeX Version:1\nInput:1:a.tex\nContent:\n<1\nh1,1:0,0:10,10,0\n>\n{1\nf1:0,0\nh1,2:0,0:10,10,0\n}1\n"
	ix, err := ParseBytes([]byte(text))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blocks := ix.Pages[1].Blocks
	if len(blocks) != 1 {
		t.Fatalf("expected only the page block, got %d", len(blocks))
	}
	if blocks[0].Line != 2 {
		t.Errorf("expected line 2, got %d", blocks[0].Line)
	}
}

func TestParseBytes_UnknownRecordsIgnored(t *testing.T) {
	text := "SyncTeX Version:1\nInput:1:a.tex\nSomething:else\nContent:\n{1\nQ1,2,3\nh1,2:0,0:10,10,0\n}1\n"
	ix, err := ParseBytes([]byte(text))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ix.Pages[1].Blocks) != 1 {
		t.Errorf("expected 1 block, got %d", len(ix.Pages[1].Blocks))
	}
}

func TestParseBytes_Malformed(t *testing.T) {
	const hdr = "SyncTeX Version:1\nInput:1:main.tex\nContent:\n"
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"no header", "hello\n"},
		{"bad version", "SyncTeX Version:one\n"},
		{"no content section", "SyncTeX Version:1\nInput:1:main.tex\n"},
		{"truncated page", hdr + "{1\n[1,1:0,0:1,1,1\n"},
		{"box kind mismatch", hdr + "{1\n[1,1:0,0:1,1,1\n)\n}1\n"},
		{"box close without open", hdr + "{1\n]\n}1\n"},
		{"page closed with open box", hdr + "{1\n(1,1:0,0:1,1,1\n}1\n"},
		{"bad number", hdr + "{1\nh1,x:0,0:1,1,1\n}1\n"},
		{"missing size", hdr + "{1\nh1,1:0,0\n}1\n"},
		{"short size", hdr + "{1\nh1,1:0,0:1,1\n}1\n"},
		{"record outside page", hdr + "h1,1:0,0:1,1,1\n"},
		{"nested page", hdr + "{1\n{2\n"},
		{"wrong page close", hdr + "{1\n}2\n"},
		{"close without open page", hdr + "}1\n"},
		{"kern without width", hdr + "{1\nk1,1:0,0\n}1\n"},
		{"point missing v", hdr + "{1\nx1,10:100\n}1\n"},
		{"glue missing v", hdr + "{1\ng1,10:5\n}1\n"},
		{"math missing v", hdr + "{1\n$1,10:5\n}1\n"},
		{"untagged kern", hdr + "{1\nk5,5:7\n}1\n"},
		{"point with extra field", hdr + "{1\nx1,1:0,0:1:2\n}1\n"},
		{"zero page number", hdr + "{0\n}0\n"},
		{"negative line", hdr + "{1\nh1,-3:0,0:1,1,1\n}1\n"},
		{"zero unit", "SyncTeX Version:1\nUnit:0\nContent:\n"},
		{"bad preamble offset", "SyncTeX Version:1\nX Offset:wide\nContent:\n"},
		{"postamble inside page", hdr + "{1\nPostamble:\n"},
		{"unclosed form", hdr + "<1\n"},
		{"stray form close", hdr + ">\n"},
		{"malformed input", "SyncTeX Version:1\nInput:1\nContent:\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix, err := ParseBytes([]byte(tt.text))
			if err == nil {
				t.Fatalf("expected parse error, got index with %d pages", len(ix.Pages))
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ParseError, got %T: %v", err, err)
			}
			if perr.Line < 1 {
				t.Errorf("expected a 1-based line, got %d", perr.Line)
			}
		})
	}
}

func TestParseBytes_ErrorPosition(t *testing.T) {
	const hdr = "SyncTeX Version:1\nInput:1:main.tex\nContent:\n"
	_, err := ParseBytes([]byte(hdr + "{1\nh1,x:0,0:1,1,1\n}1\n"))
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if perr.Line != 5 {
		t.Errorf("expected line 5, got %d", perr.Line)
	}
	if perr.Page != 1 {
		t.Errorf("expected page 1, got %d", perr.Page)
	}
	if perr.Offset != len(hdr)+len("{1\n") {
		t.Errorf("expected offset %d, got %d", len(hdr)+3, perr.Offset)
	}
	if !strings.Contains(perr.Error(), "line 5") {
		t.Errorf("expected message to name the line, got %q", perr.Error())
	}
}

func TestParseBytes_RepeatedPageMerges(t *testing.T) {
	text := "SyncTeX Version:1\nInput:1:a.tex\nContent:\n{1\nh1,1:0,0:1,1,0\n}1\n{1\nh1,2:0,0:1,1,0\n}1\n"
	ix, err := ParseBytes([]byte(text))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blocks := ix.Pages[1].Blocks
	if len(blocks) != 2 || blocks[0].Line != 1 || blocks[1].Line != 2 {
		t.Errorf("expected both page 1 runs in stream order, got %+v", blocks)
	}
}

func TestSummary(t *testing.T) {
	ix, err := ParseBytes([]byte(sampleSyncTeX))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := ix.Summary()
	if s.Pages != 2 || s.Blocks != 7 {
		t.Errorf("expected 2 pages and 7 blocks, got %d and %d", s.Pages, s.Blocks)
	}
	if len(s.Files) != 2 || s.Files[0] != "/work/./main.tex" {
		t.Errorf("unexpected files %v", s.Files)
	}

	var nilIndex *Index
	if got := nilIndex.Summary(); got.Pages != 0 || got.Files == nil {
		t.Errorf("expected empty summary for nil index, got %+v", got)
	}
}
