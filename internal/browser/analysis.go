// internal/browser/analysis.go
package browser

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/safety"
)

// analysisScript collects a structured page snapshot. Every section is guarded on
// its own so a hostile or half-rendered page yields partial results instead of an error.
const analysisScript = `(() => {
	const clip = (s, n) => (s || '').replace(/\s+/g, ' ').trim().slice(0, n);
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		const st = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
	};
	const cssPath = (el) => {
		if (el.id) { return '#' + CSS.escape(el.id); }
		const tag = el.tagName.toLowerCase();
		const name = el.getAttribute('name');
		if (name) { return tag + '[name="' + name.replace(/"/g, '\\"') + '"]'; }
		const parts = [];
		let node = el;
		while (node && node.nodeType === 1 && parts.length < 5) {
			if (node.id) { parts.unshift('#' + CSS.escape(node.id)); break; }
			let part = node.tagName.toLowerCase();
			const parent = node.parentElement;
			if (parent) {
				const same = Array.from(parent.children).filter(c => c.tagName === node.tagName);
				if (same.length > 1) { part += ':nth-of-type(' + (same.indexOf(node) + 1) + ')'; }
			}
			parts.unshift(part);
			node = parent;
		}
		return parts.join(' > ');
	};
	const labelFor = (el) => {
		if (el.id) {
			const l = document.querySelector('label[for="' + el.id.replace(/"/g, '\\"') + '"]');
			if (l) { return clip(l.innerText, 100); }
		}
		const wrap = el.closest('label');
		if (wrap) { return clip(wrap.innerText, 100); }
		return clip(el.getAttribute('aria-label'), 100);
	};
	const kindOf = (el) => {
		const tag = el.tagName.toLowerCase();
		if (tag === 'a') { return 'link'; }
		if (tag === 'button' || el.getAttribute('role') === 'button') { return 'button'; }
		if (tag === 'select') { return 'select'; }
		if (tag === 'textarea') { return 'textarea'; }
		if (tag === 'input') {
			const t = (el.getAttribute('type') || 'text').toLowerCase();
			if (t === 'checkbox' || t === 'radio') { return t; }
			if (t === 'submit' || t === 'button') { return 'button'; }
			return 'input';
		}
		return 'button';
	};

	const out = { url: location.href, title: document.title, elements: [], forms: [], navigation: [],
		content: { headings: [], paragraphs: [], tables: [], lists: [], images: [] } };

	try {
		const nodes = document.querySelectorAll('a[href], button, input:not([type="hidden"]), select, textarea, [role="button"], [role="link"], [contenteditable="true"]');
		for (const el of Array.from(nodes).slice(0, 200)) {
			const r = el.getBoundingClientRect();
			out.elements.push({
				type: kindOf(el),
				selector: cssPath(el),
				text: clip(el.innerText || el.value, 100),
				label: labelFor(el),
				placeholder: clip(el.getAttribute('placeholder'), 100),
				value: el.type === 'password' ? '' : clip(el.value, 100),
				href: el.href || '',
				isVisible: visible(el),
				isEnabled: !el.disabled,
				boundingBox: { x: r.x, y: r.y, width: r.width, height: r.height },
			});
		}
	} catch (e) {}

	try {
		for (const f of Array.from(document.forms).slice(0, 20)) {
			out.forms.push({ selector: cssPath(f), action: f.getAttribute('action') || '', method: (f.method || 'get').toLowerCase(), fields: f.elements.length });
		}
	} catch (e) {}

	try {
		const links = document.querySelectorAll('nav a[href], header a[href], [role="navigation"] a[href]');
		for (const a of Array.from(links).slice(0, 50)) {
			out.navigation.push({ text: clip(a.innerText, 100), href: a.href });
		}
	} catch (e) {}

	try {
		for (const h of Array.from(document.querySelectorAll('h1, h2, h3, h4, h5, h6')).slice(0, 50)) {
			out.content.headings.push({ level: parseInt(h.tagName.slice(1), 10), text: clip(h.innerText, 200) });
		}
	} catch (e) {}

	try {
		for (const p of Array.from(document.querySelectorAll('p')).slice(0, 30)) {
			const text = clip(p.innerText, 500);
			if (text.length > 20) { out.content.paragraphs.push(text); }
		}
	} catch (e) {}

	try {
		for (const t of Array.from(document.querySelectorAll('table')).slice(0, 5)) {
			const headers = Array.from(t.querySelectorAll('th')).map(th => clip(th.innerText, 100));
			const rows = Array.from(t.querySelectorAll('tr')).slice(0, 20)
				.map(tr => Array.from(tr.querySelectorAll('td')).map(td => clip(td.innerText, 100)))
				.filter(r => r.length > 0);
			out.content.tables.push({ headers, rows });
		}
	} catch (e) {}

	try {
		for (const l of Array.from(document.querySelectorAll('ul, ol')).slice(0, 10)) {
			const items = Array.from(l.querySelectorAll(':scope > li')).slice(0, 20).map(li => clip(li.innerText, 200));
			if (items.length > 0) { out.content.lists.push({ ordered: l.tagName === 'OL', items }); }
		}
	} catch (e) {}

	try {
		for (const img of Array.from(document.images).slice(0, 20)) {
			if (img.src) { out.content.images.push({ src: img.src, alt: clip(img.alt, 200) }); }
		}
	} catch (e) {}

	return out;
})()`

// AnalyzePage returns a structured snapshot of the current page. Script failures degrade
// to a snapshot holding only the URL and title.
func (s *Session) AnalyzePage(ctx context.Context) (*schemas.PageAnalysis, error) {
	start := time.Now()

	analysis := &schemas.PageAnalysis{}
	var raw []byte
	if err := s.runActions(ctx, chromedp.Evaluate(analysisScript, &raw)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("Page analysis script failed, returning minimal analysis.", zap.Error(err))
	} else if err := json.Unmarshal(raw, analysis); err != nil {
		s.logger.Warn("Could not decode page analysis.", zap.Error(err))
		analysis = &schemas.PageAnalysis{}
	}

	if analysis.URL == "" {
		analysis.URL, _ = s.CurrentURL(ctx)
	}
	if analysis.Title == "" {
		analysis.Title, _ = s.Title(ctx)
	}
	markExternalLinks(analysis)

	s.logger.Debug("Page analyzed.",
		zap.Int("elements", len(analysis.Elements)),
		zap.Int("forms", len(analysis.Forms)),
		zap.Duration("took", time.Since(start)))
	return analysis, nil
}

func markExternalLinks(analysis *schemas.PageAnalysis) {
	for i := range analysis.Navigation {
		analysis.Navigation[i].IsExternal = safety.IsExternalLink(analysis.URL, analysis.Navigation[i].Href)
	}
}
