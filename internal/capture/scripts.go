// scripts.go — JavaScript installed before any page script runs.
//
// Two injected layers complement the CDP network listener: hostile pages
// (aggressive CSPs, service workers, tag loaders that fire before the CDP
// session settles) drop events from any single layer, so all three run and
// the event log deduplicates by URL.
package capture

// pageBufferName is the window-scoped buffer the wrap script pushes into
// and DrainPageBuffer splices out of.
const pageBufferName = "__tw_netlog"

// networkWrapScript wraps fetch, XMLHttpRequest and sendBeacon. Every
// outgoing request is pushed as {url, channel, ts}; the Go side applies the
// analytics predicate so the page script stays dumb and cheap.
const networkWrapScript = `(() => {
  if (window.` + pageBufferName + `) return;
  const buf = [];
  window.` + pageBufferName + ` = buf;
  const push = (url, channel) => {
    try { buf.push({ url: String(url), channel: channel, ts: Date.now() }); } catch (e) {}
  };

  const origFetch = window.fetch;
  if (origFetch) {
    window.fetch = function(input, init) {
      push(typeof input === 'string' ? input : (input && input.url), 'fetch');
      return origFetch.apply(this, arguments);
    };
  }

  const origOpen = XMLHttpRequest.prototype.open;
  XMLHttpRequest.prototype.open = function(method, url) {
    push(url, 'xhr');
    return origOpen.apply(this, arguments);
  };

  if (navigator.sendBeacon) {
    const origBeacon = navigator.sendBeacon.bind(navigator);
    navigator.sendBeacon = function(url, data) {
      push(url, 'beacon');
      return origBeacon(url, data);
    };
  }
})();`

// mutationObserverScript reports every inserted <script> tag whose src is
// the tag-manager loader. Containers injected after consent banners attach
// this way without ever crossing the network listener (cached loads).
const mutationObserverScript = `(() => {
  if (window.__tw_mo) return;
  const buf = window.` + pageBufferName + ` || [];
  window.` + pageBufferName + ` = buf;
  const report = (node) => {
    if (!node || node.tagName !== 'SCRIPT' || !node.src) return;
    if (node.src.indexOf('googletagmanager.com/gtm.js') === -1) return;
    try { buf.push({ url: String(node.src), channel: 'mutation', ts: Date.now() }); } catch (e) {}
  };
  const mo = new MutationObserver((mutations) => {
    for (const m of mutations) {
      for (const node of m.addedNodes) report(node);
    }
  });
  mo.observe(document.documentElement || document, { childList: true, subtree: true });
  window.__tw_mo = mo;
})();`

// windowExtractionScript reads the container registry off the page's global
// object. Returns the key list, or an empty array when absent.
const windowExtractionScript = `(() => {
  const reg = window.google_tag_manager;
  if (!reg) return [];
  try { return Object.keys(reg); } catch (e) { return []; }
})()`

// drainBufferScript splices the page buffer, returning and clearing it in
// one atomic page-side step.
const drainBufferScript = `(() => {
  const buf = window.` + pageBufferName + `;
  if (!buf || !buf.length) return [];
  return buf.splice(0, buf.length);
})()`
