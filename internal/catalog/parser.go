package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"coursetracker/internal/course"
	"coursetracker/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// ErrParse means the page listed sections but could not be read as a course.
var ErrParse = errors.New("unreadable course page")

const rowPlaceholder = "#ROW#"

// maxRows bounds the row scan, the catalog never lists anywhere close to this
// many sections for one course.
const maxRows = 500

type Selectors struct {
	// Row must contain #ROW#, it is replaced with the 1-based row index.
	Row string
	// Availability and Location are evaluated relative to the row.
	Availability string
	Location     string
	Title        string
}

type Parser struct {
	selectors Selectors
}

func NewParser(selectors Selectors) (Parser, error) {
	if !strings.Contains(selectors.Row, rowPlaceholder) {
		return Parser{}, fmt.Errorf("row selector '%s' is missing %s", selectors.Row, rowPlaceholder)
	}
	for name, sel := range map[string]string{
		"availability": selectors.Availability,
		"location":     selectors.Location,
		"title":        selectors.Title,
	} {
		if sel == "" {
			return Parser{}, fmt.Errorf("%s selector is empty", name)
		}
	}
	return Parser{selectors: selectors}, nil
}

func (p Parser) row(doc *goquery.Document, index int) *goquery.Selection {
	sel := strings.ReplaceAll(p.selectors.Row, rowPlaceholder, strconv.Itoa(index))
	return doc.Find(sel).First()
}

// Parse reads the section table of a course page.
//
// Rows are read from the first one until a row lacks either cell. A page without
// a single readable row is course.Invalid, otherwise the sections are returned
// in table order along with the course title.
func (p Parser) Parse(doc *goquery.Document) (course.Outcome, error) {
	var sections []course.Section
	for index := 1; index <= maxRows; index++ {
		row := p.row(doc, index)
		if row.Length() == 0 {
			break
		}
		availability, ok := htmlutil.FirstText(row.Find(p.selectors.Availability))
		if !ok {
			break
		}
		location, ok := htmlutil.FirstText(row.Find(p.selectors.Location))
		if !ok {
			break
		}
		sections = append(sections, course.Section{
			Location:     location,
			Availability: availability,
		})
	}

	if len(sections) == 0 {
		return course.Invalid{}, nil
	}

	title, ok := htmlutil.FirstText(doc.Find(p.selectors.Title))
	if !ok {
		return nil, fmt.Errorf("%w: title '%s' not found after %d section rows", ErrParse, p.selectors.Title, len(sections))
	}

	return course.Populated{
		Title:    title,
		Sections: sections,
	}, nil
}
