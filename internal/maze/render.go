package maze

import (
	"fmt"
	"strings"

	"github.com/edgegate/gate/pkg/xorshift"
)

// Style names a rendering tier. Full carries the richest deterministic
// content and hidden-link budget; Lite trims both; Machine renders the bare
// minimum needed to keep a scripted client's traversal loop alive while
// spending the least possible compute on a requester already judged
// unlikely to be a human.
type Style string

const (
	StyleFull    Style = "full"
	StyleLite    Style = "lite"
	StyleMachine Style = "machine"
)

// SelectStyle picks a rendering tier from the hop's depth and the
// requester's running suspicion signals. Deeper hops and higher violation
// counts step the tier down, since by then a human would plausibly have
// bounced off the tarpit already.
func SelectStyle(depth int, botness uint8, violationCount int) Style {
	if botness >= 8 || violationCount >= 2 {
		return StyleMachine
	}
	if depth >= 6 || botness >= 4 {
		return StyleLite
	}
	return StyleFull
}

// Budget bounds the rendered page's size and the work spent producing it,
// per style tier. A hop that would exceed SizeCap is truncated rather than
// regenerated, so the size contract never depends on how much content a
// particular seed happens to produce.
type Budget struct {
	SizeCap      int
	ParagraphCap int
	LinkCap      int
}

// BudgetFor returns the render budget for a style tier.
func BudgetFor(style Style) Budget {
	switch style {
	case StyleFull:
		return Budget{SizeCap: 16384, ParagraphCap: 12, LinkCap: 8}
	case StyleLite:
		return Budget{SizeCap: 4096, ParagraphCap: 4, LinkCap: 4}
	default:
		return Budget{SizeCap: 512, ParagraphCap: 1, LinkCap: 2}
	}
}

var paragraphWords = []string{
	"system", "data", "process", "interface", "module", "record", "archive",
	"session", "queue", "channel", "resource", "pipeline", "segment", "node",
}

// Page is the deterministically rendered maze page body, free of any
// marker distinguishing it from genuine site content.
type Page struct {
	HTML  string
	Links int
}

// Render produces a deterministic page for seed at style, never exceeding
// the style's budget. Two calls with the same seed and style always
// produce byte-identical output.
func Render(seed uint64, style Style, linksAvailable int) Page {
	budget := BudgetFor(style)
	rng := xorshift.New(seed)

	links := linksAvailable
	if links > budget.LinkCap {
		links = budget.LinkCap
	}

	var b strings.Builder
	b.WriteString("<main>")
	for p := 0; p < budget.ParagraphCap; p++ {
		words := 6 + rng.Intn(10)
		b.WriteString("<p>")
		for w := 0; w < words; w++ {
			if w > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(paragraphWords[rng.Intn(len(paragraphWords))])
		}
		b.WriteString("</p>")
		if b.Len() >= budget.SizeCap {
			break
		}
	}
	b.WriteString("</main>")

	html := b.String()
	if len(html) > budget.SizeCap {
		html = html[:budget.SizeCap]
	}
	return Page{HTML: html, Links: links}
}

// LinkLabel derives a stable, content-addressed-looking anchor label for
// child link i from the page's seed, matching what the client-side
// expansion script would independently regenerate.
func LinkLabel(rng *xorshift.RNG, i int) string {
	return fmt.Sprintf("seg-%x", rng.Next()%0xFFFFFF)
}
