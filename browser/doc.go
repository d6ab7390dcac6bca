// Package browser defines the minimal browser capability surface the
// engine requires, and a chromedp-backed implementation of it.
//
// The engine treats the driver as an external collaborator: discovery needs
// selector queries (count, visibility, element info, enumeration), the
// executor needs interactions (click, fill, hover, navigate, wait) and
// diagnostics (screenshot, URL, title, HTML length), and the planner needs
// a bounded structural summary of the live page. Nothing in the engine
// depends on chromedp directly.
package browser
