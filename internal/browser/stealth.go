package browser

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// stealthScript hides the automation fingerprints the portal's challenge
// page probes for. It runs before any page script on every document.
const stealthScript = `
(function() {
    'use strict';

    Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
    delete Object.getPrototypeOf(navigator).webdriver;

    // Headless Chrome reports no plugins.
    const plugins = ['Chrome PDF Plugin', 'Chrome PDF Viewer', 'Native Client'].map((name, i) => {
        const p = Object.create(Plugin.prototype);
        Object.defineProperties(p, {
            name: { value: name, enumerable: true },
            filename: { value: 'internal-plugin-' + i, enumerable: true },
            description: { value: '', enumerable: true },
            length: { value: 1, enumerable: true }
        });
        return p;
    });
    const pluginArray = Object.create(PluginArray.prototype);
    plugins.forEach((p, i) => { pluginArray[i] = p; pluginArray[p.name] = p; });
    Object.defineProperty(pluginArray, 'length', { value: plugins.length });
    Object.defineProperty(pluginArray, 'item', { value: (i) => pluginArray[i] || null });
    Object.defineProperty(pluginArray, 'namedItem', { value: (n) => pluginArray[n] || null });
    Object.defineProperty(navigator, 'plugins', { get: () => pluginArray, configurable: true });

    Object.defineProperty(navigator, 'languages', {
        get: () => Object.freeze(['en-US', 'en']),
        configurable: true
    });

    if (!window.chrome) {
        Object.defineProperty(window, 'chrome', { value: {}, writable: true, enumerable: true, configurable: false });
    }
    if (!window.chrome.runtime) {
        window.chrome.runtime = { connect: function() {}, sendMessage: function() {}, get id() { return undefined; } };
    }

    const originalQuery = Permissions.prototype.query;
    Permissions.prototype.query = function(parameters) {
        if (parameters && parameters.name === 'notifications') {
            return Promise.resolve({ state: Notification.permission });
        }
        return originalQuery.call(this, parameters);
    };

    const patchWebGL = (proto) => {
        try {
            const getParameter = proto.getParameter;
            proto.getParameter = new Proxy(getParameter, {
                apply(target, ctx, args) {
                    if (args[0] === 37445) return 'Intel Inc.';
                    if (args[0] === 37446) return 'Intel Iris OpenGL Engine';
                    return Reflect.apply(target, ctx, args);
                }
            });
        } catch (e) {}
    };
    patchWebGL(WebGLRenderingContext.prototype);
    if (typeof WebGL2RenderingContext !== 'undefined') patchWebGL(WebGL2RenderingContext.prototype);

    if (navigator.hardwareConcurrency === 0) {
        Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 4, configurable: true });
    }
})();
`

// stealthFlags returns Chrome flags that remove automation indicators.
// They are layered over chromedp's defaults.
func stealthFlags() []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-extensions", false),
		chromedp.Flag("disable-plugins-discovery", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("lang", "en-US,en"),
		chromedp.Flag("accept-lang", "en-US,en;q=0.9"),
	}
}

// injectStealthScript installs stealthScript for every new document in the
// tab. It must run before the first navigation.
func injectStealthScript() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	})
}
