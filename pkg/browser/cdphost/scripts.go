package cdphost

import "fmt"

const (
	documentQueryFn = `(selector) => document.querySelector(selector)`

	lengthFn = `function() { return this == null ? 0 : (this.length >>> 0); }`

	// visibleFn mirrors the usual "has a box and is not hidden" rule.
	visibleFn = `function() {
	if (!this.isConnected) return false;
	const style = this.ownerDocument.defaultView.getComputedStyle(this);
	if (!style || style.visibility === 'hidden' || style.display === 'none') return false;
	const rect = this.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
}`
)

func indexFn(i int) string {
	return fmt.Sprintf("function() { return this[%d]; }", i)
}

func elementQueryFn(encodedSelector string) string {
	return fmt.Sprintf("function() { return this.querySelector(%s); }", encodedSelector)
}

func elementEvalFn(fn, encodedArg string) string {
	return fmt.Sprintf("function() { return (%s)(this, %s); }", fn, encodedArg)
}

func propertyFn(encodedName string) string {
	return fmt.Sprintf("function() { const v = this[%s]; return v == null ? '' : String(v); }", encodedName)
}
