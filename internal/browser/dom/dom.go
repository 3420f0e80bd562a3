// Package dom holds the page scripts shared by every browser driver.
package dom

import "strconv"

// ClickFunc returns an arrow function that clicks the first element
// matching selector and reports whether one was found. Clicking from
// script sidesteps overlays that swallow synthetic pointer events.
func ClickFunc(selector string) string {
	return `() => { const el = document.querySelector(` + strconv.Quote(selector) + `); ` +
		`if (!el) { return false; } el.click(); return true; }`
}

// ClickScript is ClickFunc as an immediately invoked expression.
func ClickScript(selector string) string {
	return "(" + ClickFunc(selector) + ")()"
}

// AsFunc wraps an expression so drivers that expect a function can run it.
func AsFunc(expression string) string {
	return "() => (" + expression + ")"
}
