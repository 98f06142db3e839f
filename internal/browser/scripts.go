package browser

// Element scripts take the element as the first argument: (el, arg) => value.
// Page scripts take a single argument: (arg) => value.

const describeElementScript = `(el) => {
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
	const style = window.getComputedStyle(el);
	let displayed = !el.hidden && style.display !== 'none' && style.visibility !== 'hidden';
	if (displayed && typeof el.checkVisibility === 'function') {
		displayed = el.checkVisibility({ checkVisibilityCSS: true, visibilityProperty: true });
	}
	let box = null;
	let inViewport = false;
	if (displayed && el.getClientRects().length > 0) {
		const r = el.getBoundingClientRect();
		box = { x: r.left, y: r.top, width: r.width, height: r.height };
		inViewport = r.right >= 0 && r.bottom >= 0 && r.left <= window.innerWidth && r.top <= window.innerHeight;
	}
	const labelOf = (node) => {
		if (node.id) {
			const l = document.querySelector('label[for="' + CSS.escape(node.id) + '"]');
			if (l) return l.textContent;
		}
		const wrap = node.closest('label');
		if (wrap) return wrap.textContent;
		for (let prev = node.previousElementSibling; prev; prev = prev.previousElementSibling) {
			if (prev.tagName === 'LABEL') return prev.textContent;
		}
		const cell = node.closest('td');
		if (cell && cell.previousElementSibling) {
			const l = cell.previousElementSibling.querySelector('label');
			if (l) return l.textContent;
		}
		return '';
	};
	let name = el.getAttribute('name') || '';
	if (!name && el.parentElement) {
		const owner = el.parentElement.closest('[name]');
		if (owner) name = owner.getAttribute('name') || '';
	}
	return {
		tag: el.tagName.toLowerCase(),
		text: norm(el.innerText || el.textContent).slice(0, 500),
		id: el.id || '',
		name: name,
		type: el.getAttribute('type') || '',
		placeholder: el.getAttribute('placeholder') || '',
		class: el.getAttribute('class') || '',
		label: norm(labelOf(el)),
		ariaLabel: el.getAttribute('aria-label') || '',
		value: ('value' in el && el.value != null) ? String(el.value) : '',
		displayed: displayed,
		inViewport: inViewport,
		box: box,
	};
}`

const dispatchClickScript = `(el) => { el.click(); return true; }`

const scrollIntoViewScript = `(el) => {
	el.scrollIntoView({ block: 'center', inline: 'center', behavior: 'instant' });
	return true;
}`

// clearValueScript empties a text control through the native setter so
// framework listeners see an input event.
const clearValueScript = `(el) => {
	el.focus();
	const tag = el.tagName.toUpperCase();
	if (tag !== 'INPUT' && tag !== 'TEXTAREA') return false;
	const proto = tag === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	const setter = Object.getOwnPropertyDescriptor(proto, 'value');
	if (setter && setter.set) setter.set.call(el, '');
	else el.value = '';
	el.dispatchEvent(new Event('input', { bubbles: true }));
	return true;
}`

const selectOptionScript = `(el, label) => {
	if (el.tagName.toUpperCase() !== 'SELECT') return false;
	const want = String(label).trim().toLowerCase();
	const opts = Array.from(el.options);
	const opt = opts.find(o => o.text.trim().toLowerCase() === want) || opts.find(o => o.text.trim().toLowerCase().includes(want));
	if (!opt) return false;
	el.value = opt.value;
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

const valueScript = `(el) => ('value' in el && el.value != null) ? String(el.value) : ''`

const readyScript = `() => document.readyState === 'complete' && !!document.body && document.body.children.length > 0`

// armClickCaptureScript installs a one-shot capturing click listener that
// stores a short CSS path for the clicked element. The nearest ancestor with
// an id ends the path; other levels use the tag, up to three classes and
// :nth-of-type when the tag repeats among siblings, six levels at most.
const armClickCaptureScript = `(closest) => {
	const cssPath = (el) => {
		const path = [];
		while (el && el.nodeType === Node.ELEMENT_NODE && path.length < 6) {
			let sel = el.nodeName.toLowerCase();
			if (el.id) {
				path.unshift(sel + '#' + CSS.escape(el.id));
				break;
			}
			const classes = (el.getAttribute('class') || '').trim().split(/\s+/).filter(Boolean).slice(0, 3);
			sel += classes.map(c => '.' + CSS.escape(c)).join('');
			const parent = el.parentElement;
			if (parent) {
				const same = Array.from(parent.children).filter(ch => ch.nodeName === el.nodeName);
				if (same.length > 1) sel += ':nth-of-type(' + (same.indexOf(el) + 1) + ')';
			}
			path.unshift(sel);
			el = el.parentElement;
		}
		return path.join(' > ');
	};
	window.__ticketbotLearned = null;
	if (window.__ticketbotCapture) document.removeEventListener('click', window.__ticketbotCapture, true);
	const handler = (ev) => {
		const target = ev.target instanceof Element ? ev.target : null;
		if (!target) return;
		const chosen = (closest && target.closest(closest)) || target;
		window.__ticketbotLearned = cssPath(chosen);
		document.removeEventListener('click', handler, true);
		window.__ticketbotCapture = null;
	};
	window.__ticketbotCapture = handler;
	document.addEventListener('click', handler, true);
	return true;
}`

const readClickCaptureScript = `() => {
	const sel = window.__ticketbotLearned || '';
	window.__ticketbotLearned = null;
	return sel;
}`

// ScriptForceOpenLogin opens the login modal when clicking its trigger did
// not: anchors first, then the #loginPopup hash, then the bootstrap/jQuery
// modal API, then toggling the modal classes by hand.
const ScriptForceOpenLogin = `() => {
	for (const a of document.querySelectorAll('a.btn-link[href="#loginPopup"], a[href="#loginPopup"], a[href*="login"]')) {
		if (a && typeof a.click === 'function') { a.click(); break; }
	}
	if (location.hash !== '#loginPopup') location.hash = '#loginPopup';
	const modal = document.getElementById('loginRegisterPopup');
	if (!modal) return false;
	const jq = window.jQuery;
	if (jq && typeof jq(modal).modal === 'function') {
		jq(modal).modal('show');
		return true;
	}
	const bs = window.bootstrap;
	if (bs && bs.Modal) {
		bs.Modal.getOrCreateInstance(modal).show();
		return true;
	}
	modal.style.display = 'block';
	modal.classList.add('show', 'in');
	modal.classList.remove('hide', 'fade');
	modal.removeAttribute('aria-hidden');
	modal.setAttribute('aria-modal', 'true');
	if (!document.querySelector('.modal-backdrop')) {
		const backdrop = document.createElement('div');
		backdrop.className = 'modal-backdrop fade show';
		document.body.appendChild(backdrop);
	}
	return true;
}`

// ScriptSubmitLoginForm clicks a submit control inside the login modal, or
// submits the form holding the password field.
const ScriptSubmitLoginForm = `() => {
	const scope = document.querySelector('#loginRegisterPopup') || document;
	const btn = scope.querySelector('button[type="submit"], input[type="submit"], button[name*="login" i]');
	if (btn) { btn.click(); return true; }
	const pwd = document.querySelector('input[type="password"]');
	const form = pwd && pwd.closest('form');
	if (form && typeof form.submit === 'function') { form.submit(); return true; }
	return false;
}`

// ScriptClickQuickCreateAdd clicks the quick-create add button from script.
const ScriptClickQuickCreateAdd = `() => {
	const btn = document.querySelector('.o_kanban_quick_create .o_kanban_add, button.o_kanban_add');
	if (!btn) return false;
	btn.click();
	return true;
}`
