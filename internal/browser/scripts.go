package browser

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Each script is a function expression invoked with a single JSON argument.

const probeSelectorScript = `(sel) => {
	try {
		return document.querySelector(sel) ? "ok" : "missing";
	} catch (e) {
		return "invalid";
	}
}`

const scrollScript = `(opts) => {
	const amount = opts.amount > 0 ? opts.amount : window.innerHeight;
	switch (opts.direction) {
	case "up": window.scrollBy(0, -amount); break;
	case "down": window.scrollBy(0, amount); break;
	case "top": window.scrollTo(0, 0); break;
	case "bottom": window.scrollTo(0, document.documentElement.scrollHeight); break;
	}
	return window.scrollY;
}`

const extractScript = `(opts) => {
	if (!opts.selector) {
		const text = document.body ? document.body.innerText : "";
		return { status: "ok", records: [{ url: location.href, title: document.title, text: text.slice(0, opts.maxChars) }] };
	}
	let nodes;
	try {
		nodes = Array.from(document.querySelectorAll(opts.selector));
	} catch (e) {
		return { status: "invalid", records: [] };
	}
	const records = nodes.map((n) => {
		const r = { text: (n.innerText || n.textContent || "").trim() };
		if (n.href) r.href = n.href;
		if (n.src) r.src = n.src;
		if (typeof n.value === "string" && n.value !== "" && n.type !== "password") r.value = n.value;
		return r;
	});
	return { status: records.length ? "ok" : "missing", records };
}`

const observeScript = `(opts) => {
	const esc = (v) => (window.CSS && CSS.escape) ? CSS.escape(v) : v.replace(/([^\w-])/g, "\\$1");
	const uniqueID = (el) => {
		if (!el.id) return "";
		const sel = "#" + esc(el.id);
		return document.querySelectorAll(sel).length === 1 ? sel : "";
	};
	const selectorFor = (el) => {
		const parts = [];
		for (let node = el; node && node.nodeType === 1 && node !== document.documentElement; node = node.parentElement) {
			const id = uniqueID(node);
			if (id) { parts.unshift(id); break; }
			let part = node.tagName.toLowerCase();
			const parent = node.parentElement;
			if (parent) {
				const same = Array.from(parent.children).filter((c) => c.tagName === node.tagName);
				if (same.length > 1) part += ":nth-of-type(" + (same.indexOf(node) + 1) + ")";
			}
			parts.unshift(part);
		}
		return parts.join(" > ");
	};
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		if (r.width === 0 && r.height === 0) return false;
		const s = window.getComputedStyle(el);
		return s.visibility !== "hidden" && s.display !== "none";
	};
	const label = (el) => {
		const value = el.type === "password" ? "" : el.value;
		return (el.getAttribute("aria-label") || el.innerText || value || el.getAttribute("placeholder") || el.getAttribute("title") || "")
			.trim().replace(/\s+/g, " ").slice(0, 80);
	};
	const query = 'a[href], button, input:not([type="hidden"]), select, textarea, [role="button"], [role="link"], ' +
		'[role="checkbox"], [role="tab"], [role="menuitem"], [onclick], [contenteditable="true"]';
	const elements = [];
	for (const el of document.querySelectorAll(query)) {
		if (elements.length >= opts.maxElements) break;
		if (!visible(el)) continue;
		const entry = { selector: selectorFor(el), tag: el.tagName.toLowerCase() };
		const role = el.getAttribute("role") || (el.tagName === "INPUT" ? (el.getAttribute("type") || "text") : "");
		if (role) entry.role = role;
		const text = label(el);
		if (text) entry.text = text;
		if (el.href) entry.href = el.href;
		elements.push(entry);
	}
	const raw = document.body ? document.body.innerText.replace(/\n{3,}/g, "\n\n") : "";
	return {
		url: location.href,
		title: document.title,
		text: raw.slice(0, opts.maxChars),
		truncated: raw.length > opts.maxChars,
		elements: elements,
	};
}`

// invoke renders `(script)(arg)` with arg encoded as a JSON literal.
func invoke(script string, arg any) (string, error) {
	encoded, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("failed to encode script argument: %w", err)
	}
	return fmt.Sprintf("(%s)(%s)", script, encoded), nil
}
