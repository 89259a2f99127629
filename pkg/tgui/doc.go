// Package tgui holds small helpers for building Telegram HTML messages within
// Telegram's message size.
package tgui
