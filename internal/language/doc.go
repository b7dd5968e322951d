// Package language normalizes the language codes jobs accept and detects the
// language of dialogue text.
//
// Codes may be ISO 639-1, ISO 639-2 (including bibliographic variants such as
// "fre"), English names, or any BCP 47 tag golang.org/x/text understands.
// Everything is reduced to the base language subtag. Detection uses whatlanggo
// trigram models and falls back to English when the text gives nothing to go on.
package language
