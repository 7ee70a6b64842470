package railreader2

// ClassID indexes the canonical 25-entry layout class table. A 23-entry
// variant of this table has also been seen in the wild; this 25-entry form
// is authoritative here and navigable_classes names are resolved against it
// exclusively.
type ClassID int

// The canonical class table, in index order. Order matters: detector output
// columns carry class_id as a raw integer into this table.
const (
	ClassAbstract ClassID = iota
	ClassAlgorithm
	ClassAsideText
	ClassChart
	ClassContent
	ClassDisplayFormula
	ClassDocTitle
	ClassFigureTitle
	ClassFooter
	ClassFooterImage
	ClassFootnote
	ClassFormulaNumber
	ClassHeader
	ClassHeaderImage
	ClassImage
	ClassInlineFormula
	ClassNumber
	ClassParagraphTitle
	ClassReference
	ClassReferenceContent
	ClassSeal
	ClassTable
	ClassText
	ClassVerticalText
	ClassVisionFootnote

	classCount = iota
)

var classNames = [classCount]string{
	ClassAbstract:         "abstract",
	ClassAlgorithm:        "algorithm",
	ClassAsideText:        "aside_text",
	ClassChart:            "chart",
	ClassContent:          "content",
	ClassDisplayFormula:   "display_formula",
	ClassDocTitle:         "doc_title",
	ClassFigureTitle:      "figure_title",
	ClassFooter:           "footer",
	ClassFooterImage:      "footer_image",
	ClassFootnote:         "footnote",
	ClassFormulaNumber:    "formula_number",
	ClassHeader:           "header",
	ClassHeaderImage:      "header_image",
	ClassImage:            "image",
	ClassInlineFormula:    "inline_formula",
	ClassNumber:           "number",
	ClassParagraphTitle:   "paragraph_title",
	ClassReference:        "reference",
	ClassReferenceContent: "reference_content",
	ClassSeal:             "seal",
	ClassTable:            "table",
	ClassText:             "text",
	ClassVerticalText:     "vertical_text",
	ClassVisionFootnote:   "vision_footnote",
}

// ClassName returns the canonical name for a class id, or "" if out of range.
func ClassName(id ClassID) string {
	if id < 0 || int(id) >= classCount {
		return ""
	}
	return classNames[id]
}

// ClassByName resolves a canonical class name to its id. The bool result is
// false for unknown names, letting callers silently drop them per the
// config-load error handling in spec §7.
func ClassByName(name string) (ClassID, bool) {
	for i, n := range classNames {
		if n == name {
			return ClassID(i), true
		}
	}
	return 0, false
}

// classNameAliases maps the configuration schema's legacy navigable_classes
// spellings (spec §6's documented default set) onto the canonical class
// table, for names that don't match it directly.
var classNameAliases = map[string]ClassID{
	"document_title": ClassDocTitle,
	"references":     ClassReference,
}

// ClassByConfigName resolves a navigable_classes entry to its id, trying
// the canonical table first and then the schema's legacy aliases. Used by
// both DefaultNavigableClasses and a loaded Config so a file written with
// the documented default spellings doesn't have its classes silently
// dropped.
func ClassByConfigName(name string) (ClassID, bool) {
	if id, ok := ClassByName(name); ok {
		return id, true
	}
	id, ok := classNameAliases[name]
	return id, ok
}

// DefaultNavigableClasses is the factory default navigable_classes set from
// the configuration schema (spec §6).
func DefaultNavigableClasses() map[ClassID]bool {
	names := []string{
		"abstract", "algorithm", "aside_text", "document_title",
		"footnote", "paragraph_title", "references", "text",
	}
	set := make(map[ClassID]bool, len(names))
	for _, n := range names {
		if id, ok := ClassByConfigName(n); ok {
			set[id] = true
		}
	}
	return set
}

// BBox is an axis-aligned rectangle in page-point coordinates, origin
// top-left, y-down.
type BBox struct {
	X, Y, W, H float64
}

// Right returns the x coordinate of the box's right edge.
func (b BBox) Right() float64 { return b.X + b.W }

// Bottom returns the y coordinate of the box's bottom edge.
func (b BBox) Bottom() float64 { return b.Y + b.H }

// CenterX returns the horizontal midpoint of the box.
func (b BBox) CenterX() float64 { return b.X + b.W/2 }

// CenterY returns the vertical midpoint of the box.
func (b BBox) CenterY() float64 { return b.Y + b.H/2 }

// IoU computes the class-agnostic intersection-over-union of two boxes.
func (b BBox) IoU(o BBox) float64 {
	ix0 := max(b.X, o.X)
	iy0 := max(b.Y, o.Y)
	ix1 := min(b.Right(), o.Right())
	iy1 := min(b.Bottom(), o.Bottom())

	iw := max(0, ix1-ix0)
	ih := max(0, iy1-iy0)
	inter := iw * ih
	if inter == 0 {
		return 0
	}

	union := b.W*b.H + o.W*o.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Clamp returns b intersected with the page rectangle [0,w] x [0,h].
func (b BBox) Clamp(w, h float64) BBox {
	x0 := clampf(b.X, 0, w)
	y0 := clampf(b.Y, 0, h)
	x1 := clampf(b.Right(), 0, w)
	y1 := clampf(b.Bottom(), 0, h)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return BBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// LineInfo identifies one horizontal text line within a block, in
// page-point space.
type LineInfo struct {
	YCenter float64
	Height  float64
}

// LayoutBlock is one detected, post-processed region of a page.
type LayoutBlock struct {
	BBox       BBox
	ClassID    ClassID
	Confidence float64
	Order      uint32
	Lines      []LineInfo
}

// PageAnalysis is the layout analyzer's output for a single page, in
// page-point coordinates. Blocks are ordered ascending by Order.
type PageAnalysis struct {
	Blocks          []LayoutBlock
	PageW, PageH    float64
}

// NavigableIndices returns the indices into a.Blocks whose class is in
// navigable, preserving reading order.
func (a PageAnalysis) NavigableIndices(navigable map[ClassID]bool) []int {
	var out []int
	for i, b := range a.Blocks {
		if navigable[b.ClassID] {
			out = append(out, i)
		}
	}
	return out
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
