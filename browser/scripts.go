package browser

// Injected JS shared by the chromedp driver. Every script is a
// self-contained IIFE returning JSON so results cross the CDP boundary as
// plain strings.

// jsHelpers is prepended to scripts that need visibility checks or stable
// selector generation. Selector preference: test-id attribute, then id,
// then name, then a unique first class, then an nth-of-type path.
const jsHelpers = `
function __kestrelVisible(el) {
    const rect = el.getBoundingClientRect();
    if (rect.width < 1 || rect.height < 1) return false;
    const style = window.getComputedStyle(el);
    return style.visibility !== 'hidden' && style.display !== 'none' && style.opacity !== '0';
}

function __kestrelSelector(el) {
    const esc = (v) => (window.CSS && CSS.escape) ? CSS.escape(v) : v;
    const tag = el.tagName.toLowerCase();
    const testId = el.getAttribute('data-testid') || el.getAttribute('data-test-id');
    if (testId && document.querySelectorAll('[data-testid="' + testId + '"], [data-test-id="' + testId + '"]').length === 1) {
        return el.hasAttribute('data-testid')
            ? '[data-testid="' + testId + '"]'
            : '[data-test-id="' + testId + '"]';
    }
    if (el.id && document.querySelectorAll('#' + esc(el.id)).length === 1) {
        return '#' + esc(el.id);
    }
    const name = el.getAttribute('name');
    if (name) {
        const sel = tag + '[name="' + name + '"]';
        if (document.querySelectorAll(sel).length === 1) return sel;
    }
    if (el.classList.length > 0) {
        const sel = tag + '.' + esc(el.classList[0]);
        if (document.querySelectorAll(sel).length === 1) return sel;
    }
    const path = [];
    let cur = el;
    while (cur && cur.nodeType === 1 && cur !== document.body) {
        let idx = 1, sib = cur;
        while ((sib = sib.previousElementSibling)) {
            if (sib.tagName === cur.tagName) idx++;
        }
        path.unshift(cur.tagName.toLowerCase() + ':nth-of-type(' + idx + ')');
        cur = cur.parentElement;
    }
    return 'body > ' + path.join(' > ');
}

function __kestrelAttrs(el) {
    const out = {};
    for (const name of ['id', 'name', 'type', 'class', 'href', 'title', 'role', 'placeholder', 'value', 'aria-label', 'data-testid']) {
        const v = el.getAttribute(name);
        if (v) out[name] = v;
    }
    return out;
}

function __kestrelText(el) {
    let t = el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('placeholder') || '';
    return t.replace(/[\n\r]+/g, ' ').trim().substring(0, 80);
}
`

// structureScript produces the bounded page-structure summary consumed by
// plan refinement: one line per interactive or labeled element,
// de-duplicated, capped at 200 entries.
const structureScript = jsHelpers + `
(function() {
    const MAX_ITEMS = 200;
    const lines = [];
    const seen = new Set();
    const selectorList = 'a, button, input, textarea, select, label, h1, h2, h3, h4, h5, h6, [role="button"], [role="link"], [role="tab"], [role="textbox"], [contenteditable="true"]';

    for (const el of document.querySelectorAll(selectorList)) {
        if (lines.length >= MAX_ITEMS) break;
        if (!__kestrelVisible(el)) continue;

        const tag = el.tagName.toLowerCase();
        const text = __kestrelText(el);
        const dedupeKey = tag + '|' + text;
        if (seen.has(dedupeKey)) continue;
        seen.add(dedupeKey);

        const attrs = __kestrelAttrs(el);
        const parts = ['<' + tag + '>'];
        if (text) parts.push('"' + text + '"');
        for (const k of ['id', 'name', 'type', 'role', 'aria-label', 'title', 'placeholder', 'href']) {
            if (attrs[k]) parts.push(k + '=' + attrs[k]);
        }
        parts.push('selector=' + __kestrelSelector(el));
        lines.push(parts.join(' '));
    }
    return lines.join('\n');
})()
`

// enumerateScript lists elements matching the given selector list as JSON
// summaries. The %s placeholder receives a JSON-encoded CSS selector list.
const enumerateScript = jsHelpers + `
(function() {
    const out = [];
    for (const el of document.querySelectorAll(%s)) {
        if (out.length >= 300) break;
        const rect = el.getBoundingClientRect();
        out.push({
            selector: __kestrelSelector(el),
            tag: el.tagName.toLowerCase(),
            text: __kestrelText(el),
            attributes: __kestrelAttrs(el),
            visible: __kestrelVisible(el),
            box: {x: rect.x, y: rect.y, width: rect.width, height: rect.height}
        });
    }
    return JSON.stringify(out);
})()
`

// elementAtPointScript describes the topmost element at page coordinates.
const elementAtPointScript = jsHelpers + `
(function() {
    const el = document.elementFromPoint(%f, %f);
    if (!el) return "null";
    const rect = el.getBoundingClientRect();
    return JSON.stringify({
        selector: __kestrelSelector(el),
        tag: el.tagName.toLowerCase(),
        text: __kestrelText(el),
        attributes: __kestrelAttrs(el),
        visible: __kestrelVisible(el),
        box: {x: rect.x, y: rect.y, width: rect.width, height: rect.height}
    });
})()
`

// elementInfoScript describes the first element matching a selector. The
// %s placeholder receives a JSON-encoded selector.
const elementInfoScript = jsHelpers + `
(function() {
    const el = document.querySelector(%s);
    if (!el) return "null";
    const rect = el.getBoundingClientRect();
    return JSON.stringify({
        tag: el.tagName.toLowerCase(),
        attributes: __kestrelAttrs(el),
        text: __kestrelText(el),
        position: {x: rect.x, y: rect.y, width: rect.width, height: rect.height}
    });
})()
`

// countScript counts matches for a JSON-encoded selector.
const countScript = `
(function() {
    try { return document.querySelectorAll(%s).length; } catch (e) { return -1; }
})()
`

// visibleScript reports visibility of the first match.
const visibleScript = jsHelpers + `
(function() {
    const el = document.querySelector(%s);
    return el ? __kestrelVisible(el) : false;
})()
`

// hoverScript dispatches pointer hover events on the first match.
const hoverScript = `
(function() {
    const el = document.querySelector(%s);
    if (!el) return false;
    el.scrollIntoView({block: 'center'});
    for (const type of ['pointerover', 'mouseover', 'mouseenter']) {
        el.dispatchEvent(new MouseEvent(type, {bubbles: true, cancelable: true, view: window}));
    }
    return true;
})()
`
