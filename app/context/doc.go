// Package context holds the values shared by the app and cli packages while a
// command runs. It's separate from app so that cli can use it without an
// import cycle.
package context
