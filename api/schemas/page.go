package schemas

// BoundingBox is an element's client rect in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PageElement is an interactive element discovered during page analysis.
type PageElement struct {
	Type        string      `json:"type"` // button, link, input, checkbox, radio, select, textarea
	Selector    string      `json:"selector"`
	Text        string      `json:"text,omitempty"`
	Label       string      `json:"label,omitempty"`
	Placeholder string      `json:"placeholder,omitempty"`
	Value       string      `json:"value,omitempty"`
	Href        string      `json:"href,omitempty"`
	IsVisible   bool        `json:"isVisible"`
	IsEnabled   bool        `json:"isEnabled"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

// PageForm describes a form element.
type PageForm struct {
	Selector string `json:"selector"`
	Action   string `json:"action,omitempty"`
	Method   string `json:"method,omitempty"`
	Fields   int    `json:"fields"`
}

// NavigationLink is a link found in nav or header regions.
type NavigationLink struct {
	Text       string `json:"text"`
	Href       string `json:"href"`
	IsExternal bool   `json:"isExternal"`
}

// Heading is a document heading with its level (1-6).
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Table is a best-effort tabular extraction.
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// List is an ordered or unordered list.
type List struct {
	Ordered bool     `json:"ordered"`
	Items   []string `json:"items"`
}

// Image is an img element.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// PageContent is the extracted readable content of a page.
type PageContent struct {
	Headings   []Heading `json:"headings"`
	Paragraphs []string  `json:"paragraphs"`
	Tables     []Table   `json:"tables"`
	Lists      []List    `json:"lists"`
	Images     []Image   `json:"images"`
}

// PageAnalysis is a structured snapshot of browser state used by planning-mode reasoning.
type PageAnalysis struct {
	URL        string           `json:"url"`
	Title      string           `json:"title"`
	Screenshot string           `json:"screenshot,omitempty"`
	Elements   []PageElement    `json:"elements"`
	Forms      []PageForm       `json:"forms"`
	Navigation []NavigationLink `json:"navigation"`
	Content    PageContent      `json:"content"`
}

// VisibleElements returns at most limit visible elements, in document order.
// A non-positive limit returns all of them.
func (p *PageAnalysis) VisibleElements(limit int) []PageElement {
	if p == nil {
		return nil
	}
	out := make([]PageElement, 0, len(p.Elements))
	for _, e := range p.Elements {
		if !e.IsVisible {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
